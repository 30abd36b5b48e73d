package inspection

import "time"

// Interest records a contractor's answer to an inspection invitation. One
// row per (request, contractor); re-recording overwrites the prior answer.
type Interest struct {
	RequestID       string
	ContractorID    string
	WillParticipate *bool
	UpdatedAt       time.Time
}
