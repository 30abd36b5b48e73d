package notify

import "context"

// Event types the engine emits. Content and transport live with the external
// dispatcher that drains the outbox.
const (
	EventInspectionScheduled = "INSPECTION_SCHEDULED"
	EventBiddingStarted      = "BIDDING_STARTED"
	EventBiddingClosed       = "BIDDING_CLOSED"
	EventBidAccepted         = "BID_ACCEPTED"
	EventBidRejected         = "BID_REJECTED"
	EventBidWithdrawn        = "BID_WITHDRAWN"
)

// Notifier queues a notification for a recipient. Delivery is best-effort:
// callers log errors and move on; a failed notification must never roll back
// the state change that produced it.
type Notifier interface {
	Notify(ctx context.Context, eventType, recipientID string, payload map[string]any) error
}
