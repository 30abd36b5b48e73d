package bid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"renoflow/notify"
	"renoflow/request"
)

var (
	// ErrBiddingNotOpen rejects bid writes outside the bidding window.
	ErrBiddingNotOpen = errors.New("bid: bidding is not open for this request")
	// ErrInspectionRequired rejects bids from contractors who never
	// confirmed participation in the site inspection.
	ErrInspectionRequired = errors.New("bid: inspection participation required")
	// ErrForbidden signals an ownership mismatch.
	ErrForbidden = errors.New("bid: forbidden")
	// ErrInvalidInput rejects malformed bid data before any store access.
	ErrInvalidInput = errors.New("bid: invalid input")
)

// Repository is the store surface the ledger depends on.
type Repository interface {
	Upsert(ctx context.Context, params UpsertParams) (Bid, error)
	GetByID(ctx context.Context, id string) (Bid, error)
	ListByContractor(ctx context.Context, contractorID string) ([]Bid, error)
	ListByRequest(ctx context.Context, requestID string) ([]Bid, error)
	DeletePending(ctx context.Context, id string) error
	AcceptTx(ctx context.Context, bidID, actorID string, actorIsAdmin bool) (AcceptResult, error)
}

// RequestSource resolves the parent request.
type RequestSource interface {
	GetByID(ctx context.Context, id string) (request.Request, error)
}

// EligibilityChecker is the inspection gate.
type EligibilityChecker interface {
	Eligible(ctx context.Context, requestID, contractorID string) (bool, error)
}

// Ledger owns the bid collection's consistency rules: one bid per contractor
// per request, recomputed totals, and exclusive acceptance.
type Ledger struct {
	repo     Repository
	requests RequestSource
	gate     EligibilityChecker
	notifier notify.Notifier
	logger   *slog.Logger
	idGen    func() string
}

func NewLedger(repo Repository, requests RequestSource, gate EligibilityChecker, notifier notify.Notifier, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		repo:     repo,
		requests: requests,
		gate:     gate,
		notifier: notifier,
		logger:   logger,
		idGen:    func() string { return uuid.NewString() },
	}
}

func (l *Ledger) WithIDGenerator(gen func() string) *Ledger {
	l.idGen = gen
	return l
}

// SubmitParams carries a contractor's bid. Any total supplied by the client
// is ignored.
type SubmitParams struct {
	RequestID     string
	ContractorID  string
	Breakdown     Breakdown
	TimelineWeeks int
	StartDate     *time.Time
	ScopeIncluded string
	ScopeExcluded string
	Notes         string
}

// Submit creates or replaces the contractor's bid while bidding is open and
// the contractor passed the inspection gate.
func (l *Ledger) Submit(ctx context.Context, params SubmitParams) (Bid, error) {
	if params.RequestID == "" || params.ContractorID == "" {
		return Bid{}, fmt.Errorf("%w: request and contractor ids required", ErrInvalidInput)
	}
	if params.Breakdown.Labor < 0 || params.Breakdown.Material < 0 ||
		params.Breakdown.Permit < 0 || params.Breakdown.Disposal < 0 {
		return Bid{}, fmt.Errorf("%w: cost breakdown must be non-negative", ErrInvalidInput)
	}
	if params.TimelineWeeks <= 0 {
		return Bid{}, fmt.Errorf("%w: timeline weeks must be positive", ErrInvalidInput)
	}

	req, err := l.requests.GetByID(ctx, params.RequestID)
	if err != nil {
		return Bid{}, err
	}
	if req.Status != request.StatusBiddingOpen {
		return Bid{}, ErrBiddingNotOpen
	}

	eligible, err := l.gate.Eligible(ctx, params.RequestID, params.ContractorID)
	if err != nil {
		return Bid{}, fmt.Errorf("bid: check eligibility: %w", err)
	}
	if !eligible {
		return Bid{}, ErrInspectionRequired
	}

	return l.repo.Upsert(ctx, UpsertParams{
		ID:            l.idGen(),
		RequestID:     params.RequestID,
		ContractorID:  params.ContractorID,
		Breakdown:     params.Breakdown,
		TotalAmount:   params.Breakdown.Total(),
		TimelineWeeks: params.TimelineWeeks,
		StartDate:     params.StartDate,
		ScopeIncluded: params.ScopeIncluded,
		ScopeExcluded: params.ScopeExcluded,
		Notes:         params.Notes,
	})
}

// Withdraw deletes the owner's bid while it is still pending.
func (l *Ledger) Withdraw(ctx context.Context, bidID, ownerID string) error {
	rec, err := l.repo.GetByID(ctx, bidID)
	if err != nil {
		return err
	}
	if rec.ContractorID != ownerID {
		return ErrForbidden
	}
	if rec.Status != StatusPending {
		return ErrNotPending
	}

	if err := l.repo.DeletePending(ctx, bidID); err != nil {
		return err
	}

	req, err := l.requests.GetByID(ctx, rec.RequestID)
	if err == nil {
		l.notifyOne(ctx, req.CustomerID, notify.EventBidWithdrawn, map[string]any{
			"request_id":    rec.RequestID,
			"bid_id":        rec.ID,
			"contractor_id": rec.ContractorID,
		})
	}
	return nil
}

// Accept selects the winning bid. The store accepts the target, rejects its
// pending siblings and moves the request to contractor_selected in one
// transaction; notifications go out afterwards and never influence the
// outcome.
func (l *Ledger) Accept(ctx context.Context, bidID, actorID string, actorIsAdmin bool) (AcceptResult, error) {
	res, err := l.repo.AcceptTx(ctx, bidID, actorID, actorIsAdmin)
	if err != nil {
		return AcceptResult{}, err
	}

	l.notifyOne(ctx, res.Bid.ContractorID, notify.EventBidAccepted, map[string]any{
		"request_id": res.Bid.RequestID,
		"bid_id":     res.Bid.ID,
	})
	for _, contractorID := range res.RejectedContractorIDs {
		l.notifyOne(ctx, contractorID, notify.EventBidRejected, map[string]any{
			"request_id": res.Bid.RequestID,
		})
	}
	return res, nil
}

// Get returns a single bid.
func (l *Ledger) Get(ctx context.Context, id string) (Bid, error) {
	return l.repo.GetByID(ctx, id)
}

// ListByContractor returns the contractor's own bids.
func (l *Ledger) ListByContractor(ctx context.Context, contractorID string) ([]Bid, error) {
	return l.repo.ListByContractor(ctx, contractorID)
}

// ListForRequest returns the bids on a request for its owner or an admin.
func (l *Ledger) ListForRequest(ctx context.Context, requestID, actorID string, actorIsAdmin bool) ([]Bid, error) {
	req, err := l.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !actorIsAdmin && req.CustomerID != actorID {
		return nil, ErrForbidden
	}
	return l.repo.ListByRequest(ctx, requestID)
}

func (l *Ledger) notifyOne(ctx context.Context, recipientID, eventType string, payload map[string]any) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.Notify(ctx, eventType, recipientID, payload); err != nil {
		l.logger.Warn("notify failed", "event", eventType, "recipient", recipientID, "err", err)
	}
}
