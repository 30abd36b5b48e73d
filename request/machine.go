package request

import "errors"

// ErrInvalidTransition is returned when an event is not legal from the
// request's current status. Callers racing with the sweep treat it (and
// ErrStatusConflict from the conditional update) as a no-op rather than a
// user-facing failure.
var ErrInvalidTransition = errors.New("request: invalid transition")

// Event names a lifecycle transition. Direct actions and the scheduler sweep
// both resolve their target status through the same table, so the two paths
// cannot diverge.
type Event string

const (
	EventBeginInspection     Event = "begin_inspection"
	EventScheduleInspection  Event = "schedule_inspection"
	EventOpenBidding         Event = "open_bidding"
	EventCloseNoParticipants Event = "close_no_participants"
	EventCloseBidding        Event = "close_bidding"
	EventSelectContractor    Event = "select_contractor"
	EventAutoCancel          Event = "auto_cancel"
	EventComplete            Event = "complete"
	EventCancel              Event = "cancel"
)

var transitions = map[Status]map[Event]Status{
	StatusOpen: {
		EventBeginInspection: StatusInspectionPending,
		EventCancel:          StatusClosed,
	},
	StatusInspectionPending: {
		EventScheduleInspection: StatusInspectionScheduled,
		EventCancel:             StatusClosed,
	},
	StatusInspectionScheduled: {
		EventOpenBidding:         StatusBiddingOpen,
		EventCloseNoParticipants: StatusClosed,
		EventCancel:              StatusClosed,
	},
	StatusBiddingOpen: {
		EventCloseBidding: StatusBiddingClosed,
	},
	StatusBiddingClosed: {
		EventSelectContractor: StatusContractorSelected,
		EventAutoCancel:       StatusClosed,
	},
	StatusContractorSelected: {
		EventComplete: StatusCompleted,
	},
}

// Next resolves the status an event leads to from current. It is a pure
// lookup; guards that depend on data (participant counts, dates, ownership)
// live with the operation that fires the event.
func Next(current Status, event Event) (Status, error) {
	if next, ok := transitions[current][event]; ok {
		return next, nil
	}
	return "", ErrInvalidTransition
}

// CanCancel reports whether a manual cancellation is legal from the given
// status. Pre-bidding requests can always be cancelled; an accepted bid is
// impossible in those states, which satisfies the only guard.
func CanCancel(current Status) bool {
	next, ok := transitions[current][EventCancel]
	return ok && next == StatusClosed
}
