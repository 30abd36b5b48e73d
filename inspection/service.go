package inspection

import (
	"context"
	"errors"
	"fmt"

	"renoflow/request"
)

var (
	// ErrNotInInspectionPhase signals an interest declaration outside the
	// decision window: before the inspection phase begins or after bidding
	// has started.
	ErrNotInInspectionPhase = errors.New("inspection: request is not in the inspection phase")
	// ErrInvalidInput rejects malformed caller data before any store access.
	ErrInvalidInput = errors.New("inspection: invalid input")
)

// Repository is the store surface the gate depends on.
type Repository interface {
	Upsert(ctx context.Context, requestID, contractorID string, willParticipate bool) (Interest, error)
	Get(ctx context.Context, requestID, contractorID string) (Interest, error)
}

// RequestSource resolves the parent request for phase checks.
type RequestSource interface {
	GetByID(ctx context.Context, id string) (request.Request, error)
}

// Gate owns bid eligibility: a contractor may bid only after confirming
// participation in the scheduled inspection.
type Gate struct {
	repo     Repository
	requests RequestSource
}

func NewGate(repo Repository, requests RequestSource) *Gate {
	return &Gate{repo: repo, requests: requests}
}

// RecordParams carries a contractor's answer.
type RecordParams struct {
	RequestID       string
	ContractorID    string
	WillParticipate bool
}

// RecordInterest upserts the contractor's answer. Answers are legal through
// the whole inspection phase: inspection_pending, where they feed the
// participant count that scheduling requires, and inspection_scheduled, where
// a contractor may still change their mind. A late "yes" after bidding opens
// is rejected rather than honoured retroactively.
func (g *Gate) RecordInterest(ctx context.Context, params RecordParams) (Interest, error) {
	if params.RequestID == "" || params.ContractorID == "" {
		return Interest{}, fmt.Errorf("%w: request and contractor ids required", ErrInvalidInput)
	}

	req, err := g.requests.GetByID(ctx, params.RequestID)
	if err != nil {
		return Interest{}, err
	}
	if req.Status != request.StatusInspectionPending && req.Status != request.StatusInspectionScheduled {
		return Interest{}, ErrNotInInspectionPhase
	}

	return g.repo.Upsert(ctx, params.RequestID, params.ContractorID, params.WillParticipate)
}

// Eligible reports whether the contractor confirmed participation for the
// request. Missing answers and "no" both gate the contractor out.
func (g *Gate) Eligible(ctx context.Context, requestID, contractorID string) (bool, error) {
	rec, err := g.repo.Get(ctx, requestID, contractorID)
	if err != nil {
		if errors.Is(err, ErrInterestNotFound) {
			return false, nil
		}
		return false, err
	}
	return rec.WillParticipate != nil && *rec.WillParticipate, nil
}
