package model

// ColSlotDate is the only column an appointments upload must carry.
const ColSlotDate = "date"

// AppointmentSlot is an open, earlier appointment a patient may be moved to.
// A slot present in the pool has not been given to anyone in the current campaign.
type AppointmentSlot JSONMap

func (s AppointmentSlot) Date() string {
	return Stringify(s[ColSlotDate])
}

// Strings returns a copy with every value stringified, as handed to the voice agent.
func (s AppointmentSlot) Strings() map[string]string {
	out := make(map[string]string, len(s))
	for k, v := range s {
		out[k] = Stringify(v)
	}
	return out
}

// Clone returns a shallow copy so callers cannot mutate pool entries.
func (s AppointmentSlot) Clone() AppointmentSlot {
	out := make(AppointmentSlot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
