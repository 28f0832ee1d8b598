package protocol

import "time"

// AttendeeOptions configures one attendee. Empty fields fall back to
// the provisioner's defaults.
type AttendeeOptions struct {
	Name        string `json:"name,omitempty"`
	Model       string `json:"model,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

// SolveOptions controls a single conference run.
type SolveOptions struct {
	TimeLimit time.Duration     `json:"time_limit"`
	Attendees []AttendeeOptions `json:"attendees"`
}
