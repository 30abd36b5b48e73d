package bid

import "time"

// Status enumerates the bid lifecycle.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Breakdown is the itemised cost of a bid. The total is always recomputed
// from these parts; a client-supplied total is never trusted.
type Breakdown struct {
	Labor    int64 `json:"labor"`
	Material int64 `json:"material"`
	Permit   int64 `json:"permit"`
	Disposal int64 `json:"disposal"`
}

// Total sums the breakdown.
func (b Breakdown) Total() int64 {
	return b.Labor + b.Material + b.Permit + b.Disposal
}

// Bid mirrors the bids table. One row per (request, contractor).
type Bid struct {
	ID            string
	RequestID     string
	ContractorID  string
	Breakdown     Breakdown
	TotalAmount   int64
	TimelineWeeks int
	StartDate     *time.Time
	ScopeIncluded string
	ScopeExcluded string
	Notes         string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
