package request_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"renoflow/bid"
	"renoflow/inspection"
	"renoflow/request"
)

// memWorld backs the real services with one in-memory store so the whole
// lifecycle can be walked through the public operations, the way API callers
// and the sweep drive it. The store mirrors the repositories' conditional
// writes: CAS status updates and the interest phase guard.
type memWorld struct {
	mu        sync.Mutex
	requests  map[string]request.Request
	interests map[string]inspection.Interest
	bids      map[string]bid.Bid
}

func newMemWorld() *memWorld {
	return &memWorld{
		requests:  make(map[string]request.Request),
		interests: make(map[string]inspection.Interest),
		bids:      make(map[string]bid.Bid),
	}
}

func pairKey(requestID, contractorID string) string {
	return requestID + "/" + contractorID
}

type memRequests struct{ w *memWorld }

func (s memRequests) Create(_ context.Context, req request.Request) (request.Request, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt
	s.w.requests[req.ID] = req
	return req, nil
}

func (s memRequests) GetByID(_ context.Context, id string) (request.Request, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	req, ok := s.w.requests[id]
	if !ok {
		return request.Request{}, request.ErrNotFound
	}
	return req, nil
}

func (s memRequests) List(_ context.Context, filters request.Filters) ([]request.Request, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	out := []request.Request{}
	for _, req := range s.w.requests {
		if filters.CustomerID != "" && req.CustomerID != filters.CustomerID {
			continue
		}
		if filters.Status != "" && req.Status != filters.Status {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (s memRequests) UpdateStatus(_ context.Context, id string, expected, next request.Status) (request.Request, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	req, ok := s.w.requests[id]
	if !ok {
		return request.Request{}, request.ErrNotFound
	}
	if req.Status != expected {
		return request.Request{}, request.ErrStatusConflict
	}
	req.Status = next
	req.UpdatedAt = time.Now()
	s.w.requests[id] = req
	return req, nil
}

func (s memRequests) ScheduleInspection(_ context.Context, id string, expected request.Status, date time.Time, timeOfDay *string, bidStart, bidEnd time.Time) (request.Request, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	req, ok := s.w.requests[id]
	if !ok {
		return request.Request{}, request.ErrNotFound
	}
	if req.Status != expected {
		return request.Request{}, request.ErrStatusConflict
	}
	req.Status = request.StatusInspectionScheduled
	req.InspectionDate = &date
	req.InspectionTime = timeOfDay
	req.BiddingStartDate = &bidStart
	req.BiddingEndDate = &bidEnd
	req.UpdatedAt = time.Now()
	s.w.requests[id] = req
	return req, nil
}

func (s memRequests) Cancel(_ context.Context, id string, expected request.Status, reason *string) (request.Request, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	req, ok := s.w.requests[id]
	if !ok {
		return request.Request{}, request.ErrNotFound
	}
	if req.Status != expected {
		return request.Request{}, request.ErrStatusConflict
	}
	req.Status = request.StatusClosed
	req.CancelReason = reason
	req.UpdatedAt = time.Now()
	s.w.requests[id] = req
	return req, nil
}

func (s memRequests) ListInspectionDue(_ context.Context, now time.Time) ([]request.Request, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	out := []request.Request{}
	for _, req := range s.w.requests {
		if req.Status == request.StatusInspectionScheduled && req.InspectionDate != nil && !req.InspectionDate.After(now) {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s memRequests) ListBiddingExpired(_ context.Context, now time.Time) ([]request.Request, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	out := []request.Request{}
	for _, req := range s.w.requests {
		if req.Status == request.StatusBiddingOpen && req.BiddingEndDate != nil && !req.BiddingEndDate.After(now) {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s memRequests) ListAutoCancelDue(_ context.Context, cutoff time.Time) ([]request.Request, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	out := []request.Request{}
	for _, req := range s.w.requests {
		if req.Status == request.StatusBiddingClosed && req.SelectedContractorID == nil &&
			req.BiddingEndDate != nil && !req.BiddingEndDate.After(cutoff) {
			out = append(out, req)
		}
	}
	return out, nil
}

type memInterests struct{ w *memWorld }

func (s memInterests) Upsert(_ context.Context, requestID, contractorID string, willParticipate bool) (inspection.Interest, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	req, ok := s.w.requests[requestID]
	if !ok || (req.Status != request.StatusInspectionPending && req.Status != request.StatusInspectionScheduled) {
		return inspection.Interest{}, inspection.ErrNotInInspectionPhase
	}
	rec := inspection.Interest{
		RequestID:       requestID,
		ContractorID:    contractorID,
		WillParticipate: &willParticipate,
		UpdatedAt:       time.Now(),
	}
	s.w.interests[pairKey(requestID, contractorID)] = rec
	return rec, nil
}

func (s memInterests) Get(_ context.Context, requestID, contractorID string) (inspection.Interest, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	rec, ok := s.w.interests[pairKey(requestID, contractorID)]
	if !ok {
		return inspection.Interest{}, inspection.ErrInterestNotFound
	}
	return rec, nil
}

func (s memInterests) CountParticipants(_ context.Context, requestID string) (int, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	n := 0
	for _, rec := range s.w.interests {
		if rec.RequestID == requestID && rec.WillParticipate != nil && *rec.WillParticipate {
			n++
		}
	}
	return n, nil
}

func (s memInterests) ListParticipants(_ context.Context, requestID string) ([]string, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	out := []string{}
	for _, rec := range s.w.interests {
		if rec.RequestID == requestID && rec.WillParticipate != nil && *rec.WillParticipate {
			out = append(out, rec.ContractorID)
		}
	}
	return out, nil
}

type memBids struct{ w *memWorld }

func (s memBids) Upsert(_ context.Context, params bid.UpsertParams) (bid.Bid, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	for id, b := range s.w.bids {
		if b.RequestID == params.RequestID && b.ContractorID == params.ContractorID {
			if b.Status != bid.StatusPending {
				return bid.Bid{}, bid.ErrNotPending
			}
			b.Breakdown = params.Breakdown
			b.TotalAmount = params.TotalAmount
			b.TimelineWeeks = params.TimelineWeeks
			b.UpdatedAt = time.Now()
			s.w.bids[id] = b
			return b, nil
		}
	}
	rec := bid.Bid{
		ID:            params.ID,
		RequestID:     params.RequestID,
		ContractorID:  params.ContractorID,
		Breakdown:     params.Breakdown,
		TotalAmount:   params.TotalAmount,
		TimelineWeeks: params.TimelineWeeks,
		StartDate:     params.StartDate,
		ScopeIncluded: params.ScopeIncluded,
		ScopeExcluded: params.ScopeExcluded,
		Notes:         params.Notes,
		Status:        bid.StatusPending,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	s.w.bids[params.ID] = rec
	return rec, nil
}

func (s memBids) GetByID(_ context.Context, id string) (bid.Bid, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	b, ok := s.w.bids[id]
	if !ok {
		return bid.Bid{}, bid.ErrNotFound
	}
	return b, nil
}

func (s memBids) ListByContractor(_ context.Context, contractorID string) ([]bid.Bid, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	out := []bid.Bid{}
	for _, b := range s.w.bids {
		if b.ContractorID == contractorID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s memBids) ListByRequest(_ context.Context, requestID string) ([]bid.Bid, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	out := []bid.Bid{}
	for _, b := range s.w.bids {
		if b.RequestID == requestID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s memBids) DeletePending(_ context.Context, id string) error {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	b, ok := s.w.bids[id]
	if !ok {
		return bid.ErrNotFound
	}
	if b.Status != bid.StatusPending {
		return bid.ErrNotPending
	}
	delete(s.w.bids, id)
	return nil
}

func (s memBids) AcceptTx(_ context.Context, bidID, actorID string, actorIsAdmin bool) (bid.AcceptResult, error) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	target, ok := s.w.bids[bidID]
	if !ok {
		return bid.AcceptResult{}, bid.ErrNotFound
	}
	req, ok := s.w.requests[target.RequestID]
	if !ok {
		return bid.AcceptResult{}, request.ErrNotFound
	}
	if !actorIsAdmin && req.CustomerID != actorID {
		return bid.AcceptResult{}, request.ErrForbidden
	}
	if target.Status == bid.StatusAccepted && req.Status == request.StatusContractorSelected {
		return bid.AcceptResult{Bid: target}, nil
	}
	if _, err := request.Next(req.Status, request.EventSelectContractor); err != nil {
		return bid.AcceptResult{}, err
	}
	if target.Status != bid.StatusPending {
		return bid.AcceptResult{}, bid.ErrNotPending
	}
	target.Status = bid.StatusAccepted
	s.w.bids[bidID] = target
	rejected := []string{}
	for id, b := range s.w.bids {
		if b.RequestID == target.RequestID && id != bidID && b.Status == bid.StatusPending {
			b.Status = bid.StatusRejected
			s.w.bids[id] = b
			rejected = append(rejected, b.ContractorID)
		}
	}
	req.Status = request.StatusContractorSelected
	req.SelectedContractorID = &target.ContractorID
	s.w.requests[req.ID] = req
	return bid.AcceptResult{Bid: target, RejectedContractorIDs: rejected}, nil
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, string, map[string]any) error { return nil }

// TestLifecycleEndToEnd walks one request through every phase using only the
// public service operations: create, begin inspection, collect interest
// answers during the invitation phase, schedule, open and close bidding via
// the sweep steps, accept a bid, complete. No status is ever written behind
// the services' backs, so the walk fails if any two phase guards cannot be
// satisfied in sequence.
func TestLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	w := newMemWorld()
	logger := slog.New(slog.DiscardHandler)

	reqs := memRequests{w}
	interests := memInterests{w}
	bids := memBids{w}

	svc := request.NewService(reqs, interests, noopNotifier{}, logger)
	gate := inspection.NewGate(interests, reqs)
	ledger := bid.NewLedger(bids, reqs, gate, noopNotifier{}, logger)

	created, err := svc.Create(ctx, request.CreateParams{
		CustomerID: "cust-1",
		Category:   "kitchen",
		BudgetMin:  10000,
		BudgetMax:  50000,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.BeginInspection(ctx, created.ID); err != nil {
		t.Fatalf("BeginInspection: %v", err)
	}

	inspectionDate := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	// No answers yet, so a date cannot be confirmed.
	_, err = svc.ScheduleInspection(ctx, request.ScheduleParams{RequestID: created.ID, Date: inspectionDate})
	if !errors.Is(err, request.ErrNoParticipants) {
		t.Fatalf("schedule with no answers: got %v, want ErrNoParticipants", err)
	}

	// Contractors answer while the request sits in inspection_pending.
	for _, c := range []struct {
		id   string
		will bool
	}{
		{"con-1", true},
		{"con-2", true},
		{"con-3", false},
	} {
		if _, err := gate.RecordInterest(ctx, inspection.RecordParams{
			RequestID:       created.ID,
			ContractorID:    c.id,
			WillParticipate: c.will,
		}); err != nil {
			t.Fatalf("RecordInterest(%s): %v", c.id, err)
		}
	}

	scheduled, err := svc.ScheduleInspection(ctx, request.ScheduleParams{RequestID: created.ID, Date: inspectionDate})
	if err != nil {
		t.Fatalf("ScheduleInspection: %v", err)
	}
	if scheduled.Status != request.StatusInspectionScheduled {
		t.Fatalf("status = %s, want inspection_scheduled", scheduled.Status)
	}
	wantEnd := inspectionDate.AddDate(0, 0, request.BiddingPeriodDays)
	if scheduled.BiddingEndDate == nil || !scheduled.BiddingEndDate.Equal(wantEnd) {
		t.Fatalf("bidding end = %v, want %v", scheduled.BiddingEndDate, wantEnd)
	}

	// Bids are refused until the sweep opens the window.
	breakdown := bid.Breakdown{Labor: 12000, Material: 8000, Permit: 1000, Disposal: 500}
	_, err = ledger.Submit(ctx, bid.SubmitParams{RequestID: created.ID, ContractorID: "con-1", Breakdown: breakdown, TimelineWeeks: 6})
	if !errors.Is(err, bid.ErrBiddingNotOpen) {
		t.Fatalf("early bid: got %v, want ErrBiddingNotOpen", err)
	}

	outcome, err := svc.OpenBidding(ctx, scheduled, inspectionDate.Add(time.Hour))
	if err != nil || outcome != request.SweepOutcomeBiddingStarted {
		t.Fatalf("OpenBidding: got (%s, %v), want bidding_started", outcome, err)
	}

	// The declined contractor stays gated out, and a late change of heart
	// after bidding opened is refused.
	_, err = ledger.Submit(ctx, bid.SubmitParams{RequestID: created.ID, ContractorID: "con-3", Breakdown: breakdown, TimelineWeeks: 4})
	if !errors.Is(err, bid.ErrInspectionRequired) {
		t.Fatalf("declined contractor bid: got %v, want ErrInspectionRequired", err)
	}
	_, err = gate.RecordInterest(ctx, inspection.RecordParams{RequestID: created.ID, ContractorID: "con-3", WillParticipate: true})
	if !errors.Is(err, inspection.ErrNotInInspectionPhase) {
		t.Fatalf("late interest: got %v, want ErrNotInInspectionPhase", err)
	}

	winning, err := ledger.Submit(ctx, bid.SubmitParams{RequestID: created.ID, ContractorID: "con-1", Breakdown: breakdown, TimelineWeeks: 6})
	if err != nil {
		t.Fatalf("Submit con-1: %v", err)
	}
	if winning.TotalAmount != breakdown.Total() {
		t.Fatalf("total = %d, want %d", winning.TotalAmount, breakdown.Total())
	}
	if _, err := ledger.Submit(ctx, bid.SubmitParams{RequestID: created.ID, ContractorID: "con-2", Breakdown: bid.Breakdown{Labor: 20000}, TimelineWeeks: 5}); err != nil {
		t.Fatalf("Submit con-2: %v", err)
	}

	cur, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	outcome, err = svc.CloseBidding(ctx, cur, inspectionDate.AddDate(0, 0, request.BiddingPeriodDays+1))
	if err != nil || outcome != request.SweepOutcomeBiddingClosed {
		t.Fatalf("CloseBidding: got (%s, %v), want bidding_closed", outcome, err)
	}

	res, err := ledger.Accept(ctx, winning.ID, "cust-1", false)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if res.Bid.Status != bid.StatusAccepted {
		t.Fatalf("accepted bid status = %s", res.Bid.Status)
	}
	if len(res.RejectedContractorIDs) != 1 || res.RejectedContractorIDs[0] != "con-2" {
		t.Fatalf("rejected = %v, want [con-2]", res.RejectedContractorIDs)
	}

	selected, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get after accept: %v", err)
	}
	if selected.Status != request.StatusContractorSelected {
		t.Fatalf("status = %s, want contractor_selected", selected.Status)
	}
	if selected.SelectedContractorID == nil || *selected.SelectedContractorID != "con-1" {
		t.Fatalf("selected contractor = %v, want con-1", selected.SelectedContractorID)
	}

	// A replayed accept is a no-op, not a second decision.
	replay, err := ledger.Accept(ctx, winning.ID, "cust-1", false)
	if err != nil {
		t.Fatalf("replayed Accept: %v", err)
	}
	if replay.Bid.ID != winning.ID || len(replay.RejectedContractorIDs) != 0 {
		t.Fatalf("replay = %+v, want same bid and no new rejections", replay)
	}

	done, err := svc.Complete(ctx, created.ID, "cust-1", "customer")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != request.StatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}
}
