package inspection

import (
	"context"
	"errors"
	"testing"
	"time"

	"renoflow/request"
)

type fakeRepo struct {
	answers map[string]Interest
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{answers: make(map[string]Interest)}
}

func key(requestID, contractorID string) string {
	return requestID + "/" + contractorID
}

func (r *fakeRepo) Upsert(_ context.Context, requestID, contractorID string, willParticipate bool) (Interest, error) {
	rec := Interest{
		RequestID:       requestID,
		ContractorID:    contractorID,
		WillParticipate: &willParticipate,
		UpdatedAt:       time.Now(),
	}
	r.answers[key(requestID, contractorID)] = rec
	return rec, nil
}

func (r *fakeRepo) Get(_ context.Context, requestID, contractorID string) (Interest, error) {
	rec, ok := r.answers[key(requestID, contractorID)]
	if !ok {
		return Interest{}, ErrInterestNotFound
	}
	return rec, nil
}

type fakeRequests struct {
	status request.Status
	err    error
}

func (f *fakeRequests) GetByID(_ context.Context, id string) (request.Request, error) {
	if f.err != nil {
		return request.Request{}, f.err
	}
	return request.Request{ID: id, Status: f.status}, nil
}

func TestRecordInterestRequiresInspectionPhase(t *testing.T) {
	ctx := context.Background()

	for _, status := range []request.Status{
		request.StatusOpen,
		request.StatusBiddingOpen,
		request.StatusBiddingClosed,
		request.StatusClosed,
	} {
		gate := NewGate(newFakeRepo(), &fakeRequests{status: status})
		_, err := gate.RecordInterest(ctx, RecordParams{RequestID: "r1", ContractorID: "con-1", WillParticipate: true})
		if !errors.Is(err, ErrNotInInspectionPhase) {
			t.Errorf("status %s: got %v, want ErrNotInInspectionPhase", status, err)
		}
	}
}

// Answers must land before a date is confirmed: scheduling requires at least
// one confirmed participant, so the invitation phase has to accept them.
func TestRecordInterestAllowedDuringInvitationPhase(t *testing.T) {
	ctx := context.Background()

	for _, status := range []request.Status{
		request.StatusInspectionPending,
		request.StatusInspectionScheduled,
	} {
		repo := newFakeRepo()
		gate := NewGate(repo, &fakeRequests{status: status})
		rec, err := gate.RecordInterest(ctx, RecordParams{RequestID: "r1", ContractorID: "con-1", WillParticipate: true})
		if err != nil {
			t.Fatalf("status %s: RecordInterest: %v", status, err)
		}
		if rec.WillParticipate == nil || !*rec.WillParticipate {
			t.Fatalf("status %s: answer = %v, want true", status, rec.WillParticipate)
		}
	}
}

func TestRecordInterestOverwritesPriorAnswer(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	gate := NewGate(repo, &fakeRequests{status: request.StatusInspectionScheduled})

	if _, err := gate.RecordInterest(ctx, RecordParams{RequestID: "r1", ContractorID: "con-1", WillParticipate: true}); err != nil {
		t.Fatalf("first RecordInterest: %v", err)
	}
	rec, err := gate.RecordInterest(ctx, RecordParams{RequestID: "r1", ContractorID: "con-1", WillParticipate: false})
	if err != nil {
		t.Fatalf("second RecordInterest: %v", err)
	}
	if rec.WillParticipate == nil || *rec.WillParticipate {
		t.Fatalf("answer = %v, want false", rec.WillParticipate)
	}
	if len(repo.answers) != 1 {
		t.Fatalf("stored %d answers, want 1", len(repo.answers))
	}
}

func TestRecordInterestPropagatesMissingRequest(t *testing.T) {
	gate := NewGate(newFakeRepo(), &fakeRequests{err: request.ErrNotFound})
	_, err := gate.RecordInterest(context.Background(), RecordParams{RequestID: "r1", ContractorID: "con-1"})
	if !errors.Is(err, request.ErrNotFound) {
		t.Fatalf("got %v, want request.ErrNotFound", err)
	}
}

func TestEligible(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	gate := NewGate(repo, &fakeRequests{status: request.StatusInspectionScheduled})

	// No answer at all.
	ok, err := gate.Eligible(ctx, "r1", "con-1")
	if err != nil || ok {
		t.Fatalf("missing answer: got (%v, %v), want (false, nil)", ok, err)
	}

	// Declined.
	repo.Upsert(ctx, "r1", "con-1", false)
	ok, err = gate.Eligible(ctx, "r1", "con-1")
	if err != nil || ok {
		t.Fatalf("declined: got (%v, %v), want (false, nil)", ok, err)
	}

	// Confirmed.
	repo.Upsert(ctx, "r1", "con-1", true)
	ok, err = gate.Eligible(ctx, "r1", "con-1")
	if err != nil || !ok {
		t.Fatalf("confirmed: got (%v, %v), want (true, nil)", ok, err)
	}
}
