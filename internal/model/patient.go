package model

import "strings"

// Columns of the people upload understood by the campaign. Any other column is
// carried along untouched.
const (
	ColPatientFirst          = "Patient-First"
	ColPatientLast           = "Patient-Last"
	ColDateOfBirth           = "Date_of_Birth"
	ColPhoneNumber           = "phone number"
	ColCellPhone             = "Cell Phone"
	ColLabName               = "Lab_Name"
	ColLabPhone              = "Lab_Phone"
	ColTestType              = "Test_Type"
	ColAppointmentDate       = "Extracted_Appointment_Date"
	ColAppointmentDayOfWeek  = "Appointment_Day_Of_Week"
	ColAppointmentMonth      = "Appointment_Month"
	ColAppointmentDayOfMonth = "Appointment_Day_Of_Month"
	ColIsTonight             = "Is_Tonight"
	ColIsTomorrow            = "Is_Tomorrow"
)

// DynamicVariableColumns are forwarded to the voice agent when present, in this order.
var DynamicVariableColumns = []string{
	ColPatientFirst,
	ColPatientLast,
	ColDateOfBirth,
	ColLabName,
	ColLabPhone,
	ColTestType,
	ColAppointmentDate,
	ColAppointmentDayOfWeek,
	ColAppointmentMonth,
	ColAppointmentDayOfMonth,
	ColIsTonight,
	ColIsTomorrow,
}

// Person is one row of the people upload. It is never modified during a campaign.
type Person JSONMap

func (p Person) Get(col string) string {
	return Stringify(p[col])
}

// Has reports whether the column is present, even if empty.
func (p Person) Has(col string) bool {
	_, ok := p[col]
	return ok
}

// FullName is the display name used in progress events and outcomes.
func (p Person) FullName() string {
	return strings.TrimSpace(p.Get(ColPatientFirst) + " " + p.Get(ColPatientLast))
}

func (p Person) DateOfBirth() string {
	return p.Get(ColDateOfBirth)
}

// Phone is the number that will be dialed.
func (p Person) Phone() string {
	return strings.TrimSpace(p.Get(ColPhoneNumber))
}

// DisplayPhone falls back to the cell phone column for progress events.
func (p Person) DisplayPhone() string {
	if p.Has(ColPhoneNumber) {
		return p.Get(ColPhoneNumber)
	}
	return p.Get(ColCellPhone)
}

func (p Person) CurrentAppointmentDate() string {
	return strings.TrimSpace(p.Get(ColAppointmentDate))
}
