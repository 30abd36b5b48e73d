package request

import "time"

// Status enumerates the request lifecycle. Transitions between statuses go
// through the machine in machine.go; nothing else writes the status column.
type Status string

const (
	StatusOpen                Status = "open"
	StatusInspectionPending   Status = "inspection_pending"
	StatusInspectionScheduled Status = "inspection_scheduled"
	StatusBiddingOpen         Status = "bidding_open"
	StatusBiddingClosed       Status = "bidding_closed"
	StatusContractorSelected  Status = "contractor_selected"
	StatusCompleted           Status = "completed"
	StatusClosed              Status = "closed"
)

const (
	// BiddingPeriodDays is the fixed length of the bidding window. The
	// window is provisioned when the inspection is scheduled so the deadline
	// is visible before bidding starts.
	BiddingPeriodDays = 7

	// AutoCancelGrace is how long a request may sit in bidding_closed with
	// no selected contractor before the sweep closes it.
	AutoCancelGrace = 24 * time.Hour
)

// Request mirrors the requests table.
type Request struct {
	ID                   string
	CustomerID           string
	Category             string
	BudgetMin            int64
	BudgetMax            int64
	Timeline             string
	PostalPrefix         string
	Address              string
	Description          string
	PhotoRefs            []string
	Status               Status
	InspectionDate       *time.Time
	InspectionTime       *string
	BiddingStartDate     *time.Time
	BiddingEndDate       *time.Time
	SelectedContractorID *string
	CancelReason         *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SweepOutcome reports what happened to a single candidate during a sweep
// pass.
type SweepOutcome string

const (
	SweepOutcomeBiddingStarted SweepOutcome = "bidding_started"
	SweepOutcomeBiddingClosed  SweepOutcome = "bidding_closed"
	SweepOutcomeAutoCancelled  SweepOutcome = "auto_cancelled"
	SweepOutcomeNoParticipants SweepOutcome = "closed_no_participants"
	// SweepOutcomeSkipped means another writer advanced the request first;
	// the conditional update lost the race, which is a no-op, not an error.
	SweepOutcomeSkipped SweepOutcome = "skipped"
)
