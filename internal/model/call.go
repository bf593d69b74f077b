package model

// CallPayload is the raw call record returned by the calling service.
type CallPayload JSONMap

// CallStatus returns the call_status field, or "" when absent.
func (p CallPayload) CallStatus() string {
	if p == nil {
		return ""
	}
	s, _ := p["call_status"].(string)
	return s
}

// Ended reports whether the call reached a terminal state.
func (p CallPayload) Ended() bool {
	switch p.CallStatus() {
	case "ended", "error":
		return true
	}
	return false
}

// PhoneNumber is an origin number owned by the account.
type PhoneNumber struct {
	PhoneNumber       string `json:"phone_number"`
	PhoneNumberPretty string `json:"phone_number_pretty,omitempty"`
	Nickname          string `json:"nickname,omitempty"`
	AreaCode          int    `json:"area_code,omitempty"`
}

// StartCampaignRequest is the body of a campaign start.
type StartCampaignRequest struct {
	FromNumber string `json:"from_number"`
}
