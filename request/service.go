package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"renoflow/notify"
)

var (
	// ErrNoParticipants means an inspection cannot be confirmed (or bidding
	// opened) because no contractor said they will attend.
	ErrNoParticipants = errors.New("request: no confirmed inspection participants")
	// ErrForbidden signals an ownership or role mismatch.
	ErrForbidden = errors.New("request: forbidden")
	// ErrInvalidInput rejects malformed caller data before any store access.
	ErrInvalidInput = errors.New("request: invalid input")
)

// Repository is the store surface the service depends on.
type Repository interface {
	Create(ctx context.Context, req Request) (Request, error)
	GetByID(ctx context.Context, id string) (Request, error)
	List(ctx context.Context, filters Filters) ([]Request, error)
	UpdateStatus(ctx context.Context, id string, expected, next Status) (Request, error)
	ScheduleInspection(ctx context.Context, id string, expected Status, date time.Time, timeOfDay *string, bidStart, bidEnd time.Time) (Request, error)
	Cancel(ctx context.Context, id string, expected Status, reason *string) (Request, error)
	ListInspectionDue(ctx context.Context, now time.Time) ([]Request, error)
	ListBiddingExpired(ctx context.Context, now time.Time) ([]Request, error)
	ListAutoCancelDue(ctx context.Context, cutoff time.Time) ([]Request, error)
}

// ParticipantSource answers who confirmed attendance for a request's
// inspection.
type ParticipantSource interface {
	CountParticipants(ctx context.Context, requestID string) (int, error)
	ListParticipants(ctx context.Context, requestID string) ([]string, error)
}

// Service owns every lifecycle transition of a request. The scheduler sweep
// and the HTTP handlers both go through it, so there is exactly one
// transition authority.
type Service struct {
	repo         Repository
	participants ParticipantSource
	notifier     notify.Notifier
	logger       *slog.Logger
	now          func() time.Time
	idGen        func() string
}

func NewService(repo Repository, participants ParticipantSource, notifier notify.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		participants: participants,
		notifier:     notifier,
		logger:       logger,
		now:          time.Now,
		idGen:        func() string { return uuid.NewString() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// CreateParams carries the customer's new listing.
type CreateParams struct {
	CustomerID   string
	Category     string
	BudgetMin    int64
	BudgetMax    int64
	Timeline     string
	PostalPrefix string
	Address      string
	Description  string
	PhotoRefs    []string
}

func (s *Service) Create(ctx context.Context, params CreateParams) (Request, error) {
	if params.CustomerID == "" {
		return Request{}, fmt.Errorf("%w: missing customer id", ErrInvalidInput)
	}
	if strings.TrimSpace(params.Category) == "" {
		return Request{}, fmt.Errorf("%w: category required", ErrInvalidInput)
	}
	if params.BudgetMin < 0 || params.BudgetMax < params.BudgetMin {
		return Request{}, fmt.Errorf("%w: budget range", ErrInvalidInput)
	}

	req := Request{
		ID:           s.idGen(),
		CustomerID:   params.CustomerID,
		Category:     params.Category,
		BudgetMin:    params.BudgetMin,
		BudgetMax:    params.BudgetMax,
		Timeline:     params.Timeline,
		PostalPrefix: params.PostalPrefix,
		Address:      params.Address,
		Description:  params.Description,
		PhotoRefs:    params.PhotoRefs,
		Status:       StatusOpen,
	}
	if req.PhotoRefs == nil {
		req.PhotoRefs = []string{}
	}
	return s.repo.Create(ctx, req)
}

func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filters Filters) ([]Request, error) {
	return s.repo.List(ctx, filters)
}

// BeginInspection moves a fresh request into the inspection phase (admin
// action once contractors show interest in a visit).
func (s *Service) BeginInspection(ctx context.Context, id string) (Request, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Request{}, err
	}
	next, err := Next(req.Status, EventBeginInspection)
	if err != nil {
		return Request{}, err
	}
	return s.repo.UpdateStatus(ctx, id, req.Status, next)
}

// ScheduleParams confirms the physical site visit.
type ScheduleParams struct {
	RequestID string
	Date      time.Time
	TimeOfDay *string
}

// ScheduleInspection confirms a concrete inspection date. Requires at least
// one contractor with will_participate=true, collected while the request sat
// in inspection_pending. The bidding window is provisioned here: it starts on
// the inspection date and ends exactly BiddingPeriodDays later.
func (s *Service) ScheduleInspection(ctx context.Context, params ScheduleParams) (Request, error) {
	req, err := s.repo.GetByID(ctx, params.RequestID)
	if err != nil {
		return Request{}, err
	}
	if _, err := Next(req.Status, EventScheduleInspection); err != nil {
		return Request{}, err
	}

	count, err := s.participants.CountParticipants(ctx, params.RequestID)
	if err != nil {
		return Request{}, fmt.Errorf("request: count participants: %w", err)
	}
	if count == 0 {
		return Request{}, ErrNoParticipants
	}

	bidStart := params.Date
	bidEnd := params.Date.AddDate(0, 0, BiddingPeriodDays)

	updated, err := s.repo.ScheduleInspection(ctx, params.RequestID, req.Status, params.Date, params.TimeOfDay, bidStart, bidEnd)
	if err != nil {
		return Request{}, err
	}

	s.notifyParticipants(ctx, updated, notify.EventInspectionScheduled, map[string]any{
		"request_id":       updated.ID,
		"inspection_date":  params.Date.UTC(),
		"bidding_end_date": bidEnd.UTC(),
	})
	return updated, nil
}

// CancelParams carries a manual cancellation.
type CancelParams struct {
	RequestID string
	ActorID   string
	ActorRole string
	Reason    *string
}

// Cancel closes a pre-bidding request on behalf of its owner or an admin.
func (s *Service) Cancel(ctx context.Context, params CancelParams) (Request, error) {
	req, err := s.repo.GetByID(ctx, params.RequestID)
	if err != nil {
		return Request{}, err
	}
	if params.ActorRole != "admin" && req.CustomerID != params.ActorID {
		return Request{}, ErrForbidden
	}
	if !CanCancel(req.Status) {
		return Request{}, ErrInvalidTransition
	}

	var reason *string
	if params.Reason != nil {
		trimmed := strings.TrimSpace(*params.Reason)
		if trimmed != "" {
			reason = &trimmed
		}
	}
	return s.repo.Cancel(ctx, params.RequestID, req.Status, reason)
}

// Complete marks a selected project finished.
func (s *Service) Complete(ctx context.Context, requestID, actorID, actorRole string) (Request, error) {
	req, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return Request{}, err
	}
	if actorRole != "admin" && req.CustomerID != actorID {
		return Request{}, ErrForbidden
	}
	next, err := Next(req.Status, EventComplete)
	if err != nil {
		return Request{}, err
	}
	return s.repo.UpdateStatus(ctx, requestID, req.Status, next)
}

// OpenBidding is fired by the sweep once the inspection date has passed.
// With at least one confirmed participant the request enters bidding_open;
// with none it closes immediately, since no one is eligible to bid.
func (s *Service) OpenBidding(ctx context.Context, req Request, now time.Time) (SweepOutcome, error) {
	if req.InspectionDate == nil || req.InspectionDate.After(now) {
		return SweepOutcomeSkipped, nil
	}

	count, err := s.participants.CountParticipants(ctx, req.ID)
	if err != nil {
		return "", fmt.Errorf("request: count participants: %w", err)
	}

	if count == 0 {
		next, err := Next(req.Status, EventCloseNoParticipants)
		if err != nil {
			return SweepOutcomeSkipped, nil
		}
		if _, err := s.repo.UpdateStatus(ctx, req.ID, req.Status, next); err != nil {
			if errors.Is(err, ErrStatusConflict) {
				return SweepOutcomeSkipped, nil
			}
			return "", err
		}
		return SweepOutcomeNoParticipants, nil
	}

	next, err := Next(req.Status, EventOpenBidding)
	if err != nil {
		return SweepOutcomeSkipped, nil
	}
	updated, err := s.repo.UpdateStatus(ctx, req.ID, req.Status, next)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return SweepOutcomeSkipped, nil
		}
		return "", err
	}

	s.notifyParticipants(ctx, updated, notify.EventBiddingStarted, map[string]any{
		"request_id":       updated.ID,
		"bidding_end_date": derefTime(updated.BiddingEndDate),
	})
	return SweepOutcomeBiddingStarted, nil
}

// CloseBidding is fired by the sweep when the bidding window has elapsed.
// Pending bids stay pending; the customer still chooses.
func (s *Service) CloseBidding(ctx context.Context, req Request, now time.Time) (SweepOutcome, error) {
	if req.BiddingEndDate == nil || req.BiddingEndDate.After(now) {
		return SweepOutcomeSkipped, nil
	}
	next, err := Next(req.Status, EventCloseBidding)
	if err != nil {
		return SweepOutcomeSkipped, nil
	}
	updated, err := s.repo.UpdateStatus(ctx, req.ID, req.Status, next)
	if err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return SweepOutcomeSkipped, nil
		}
		return "", err
	}

	s.notifyOne(ctx, updated.CustomerID, notify.EventBiddingClosed, map[string]any{
		"request_id": updated.ID,
	})
	return SweepOutcomeBiddingClosed, nil
}

// AutoCancel is fired by the sweep when a closed bidding window has gone a
// full grace period with no contractor selected.
func (s *Service) AutoCancel(ctx context.Context, req Request, now time.Time) (SweepOutcome, error) {
	if req.SelectedContractorID != nil {
		return SweepOutcomeSkipped, nil
	}
	if req.BiddingEndDate == nil || req.BiddingEndDate.Add(AutoCancelGrace).After(now) {
		return SweepOutcomeSkipped, nil
	}
	next, err := Next(req.Status, EventAutoCancel)
	if err != nil {
		return SweepOutcomeSkipped, nil
	}
	if _, err := s.repo.UpdateStatus(ctx, req.ID, req.Status, next); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return SweepOutcomeSkipped, nil
		}
		return "", err
	}
	return SweepOutcomeAutoCancelled, nil
}

// ListInspectionDue exposes sweep candidates for opening bidding.
func (s *Service) ListInspectionDue(ctx context.Context, now time.Time) ([]Request, error) {
	return s.repo.ListInspectionDue(ctx, now)
}

// ListBiddingExpired exposes sweep candidates for closing bidding.
func (s *Service) ListBiddingExpired(ctx context.Context, now time.Time) ([]Request, error) {
	return s.repo.ListBiddingExpired(ctx, now)
}

// ListAutoCancelDue exposes sweep candidates for auto-cancellation.
func (s *Service) ListAutoCancelDue(ctx context.Context, now time.Time) ([]Request, error) {
	return s.repo.ListAutoCancelDue(ctx, now.Add(-AutoCancelGrace))
}

// notifyParticipants fans an event out to every confirmed participant.
// Notification is best-effort: failures are logged and never surfaced.
func (s *Service) notifyParticipants(ctx context.Context, req Request, eventType string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	ids, err := s.participants.ListParticipants(ctx, req.ID)
	if err != nil {
		s.logger.Warn("list participants for notification", "request_id", req.ID, "err", err)
		return
	}
	for _, id := range ids {
		s.notifyOne(ctx, id, eventType, payload)
	}
}

func (s *Service) notifyOne(ctx context.Context, recipientID, eventType string, payload map[string]any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, eventType, recipientID, payload); err != nil {
		s.logger.Warn("notify failed", "event", eventType, "recipient", recipientID, "err", err)
	}
}

func derefTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
