// Package sweep advances time-dependent request transitions. It is designed
// to be triggered by an external scheduler at any cadence: every phase query
// excludes requests that already advanced, so re-runs find nothing to do.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"renoflow/request"
)

// Engine is the single transition authority the sweep drives. It is
// implemented by request.Service so the sweep can never diverge from the
// direct-action path.
type Engine interface {
	ListInspectionDue(ctx context.Context, now time.Time) ([]request.Request, error)
	ListBiddingExpired(ctx context.Context, now time.Time) ([]request.Request, error)
	ListAutoCancelDue(ctx context.Context, now time.Time) ([]request.Request, error)
	OpenBidding(ctx context.Context, req request.Request, now time.Time) (request.SweepOutcome, error)
	CloseBidding(ctx context.Context, req request.Request, now time.Time) (request.SweepOutcome, error)
	AutoCancel(ctx context.Context, req request.Request, now time.Time) (request.SweepOutcome, error)
}

// Failure records a single request the sweep could not process. One
// request's failure never aborts the rest of the pass.
type Failure struct {
	RequestID string `json:"request_id"`
	Phase     string `json:"phase"`
	Error     string `json:"error"`
}

// Summary is the structured result returned to the trigger.
type Summary struct {
	BiddingStarted       int       `json:"bidding_started"`
	BiddingClosed        int       `json:"bidding_closed"`
	AutoCancelled        int       `json:"auto_cancelled"`
	ClosedNoParticipants int       `json:"closed_no_participants"`
	Skipped              int       `json:"skipped"`
	Failures             []Failure `json:"failures,omitempty"`
	BiddingPeriodDays    int       `json:"bidding_period_days"`
	Timestamp            time.Time `json:"timestamp"`
}

// Service runs the periodic sweep.
type Service struct {
	engine  Engine
	workers int
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(engine Engine, workers int, logger *slog.Logger) *Service {
	if workers <= 0 {
		workers = 8
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		engine:  engine,
		workers: workers,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Run executes the three phases in their fixed order: open bidding, close
// bidding, auto-cancel. Requests within a phase are processed independently
// with bounded concurrency; each either advances, is skipped (lost a race),
// or records a failure.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	now := s.now()
	summary := Summary{
		BiddingPeriodDays: request.BiddingPeriodDays,
		Timestamp:         now.UTC(),
	}
	var mu sync.Mutex

	phases := []struct {
		name string
		list func(context.Context, time.Time) ([]request.Request, error)
		step func(context.Context, request.Request, time.Time) (request.SweepOutcome, error)
	}{
		{"open_bidding", s.engine.ListInspectionDue, s.engine.OpenBidding},
		{"close_bidding", s.engine.ListBiddingExpired, s.engine.CloseBidding},
		{"auto_cancel", s.engine.ListAutoCancelDue, s.engine.AutoCancel},
	}

	for _, phase := range phases {
		candidates, err := phase.list(ctx, now)
		if err != nil {
			return summary, fmt.Errorf("sweep: list %s candidates: %w", phase.name, err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)
		for _, candidate := range candidates {
			candidate := candidate
			name := phase.name
			step := phase.step
			g.Go(func() error {
				outcome, err := step(gctx, candidate, now)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					summary.Failures = append(summary.Failures, Failure{
						RequestID: candidate.ID,
						Phase:     name,
						Error:     err.Error(),
					})
					s.logger.Error("sweep step failed", "phase", name, "request_id", candidate.ID, "err", err)
					return nil
				}
				switch outcome {
				case request.SweepOutcomeBiddingStarted:
					summary.BiddingStarted++
				case request.SweepOutcomeBiddingClosed:
					summary.BiddingClosed++
				case request.SweepOutcomeAutoCancelled:
					summary.AutoCancelled++
				case request.SweepOutcomeNoParticipants:
					summary.ClosedNoParticipants++
				case request.SweepOutcomeSkipped:
					summary.Skipped++
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return summary, fmt.Errorf("sweep: %s phase: %w", phase.name, err)
		}
	}

	s.logger.Info("sweep finished",
		"bidding_started", summary.BiddingStarted,
		"bidding_closed", summary.BiddingClosed,
		"auto_cancelled", summary.AutoCancelled,
		"closed_no_participants", summary.ClosedNoParticipants,
		"skipped", summary.Skipped,
		"failures", len(summary.Failures),
	)
	return summary, nil
}
