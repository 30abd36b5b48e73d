package bid

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"renoflow/db"
	"renoflow/request"
)

// TestAcceptTx_Integration connects to a real PostgreSQL via DATABASE_URL and
// verifies the transactional acceptance end to end, including the idempotent
// replay and the rejection of a second winner.
func TestAcceptTx_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	customerID := seedUser(t, ctx, pool, "customer")
	winnerID := seedUser(t, ctx, pool, "contractor")
	loserID := seedUser(t, ctx, pool, "contractor")
	requestID := seedClosedRequest(t, ctx, pool, customerID)
	for _, contractorID := range []string{winnerID, loserID} {
		seedInterest(t, ctx, pool, requestID, contractorID)
	}
	winningBid := seedBid(t, ctx, pool, requestID, winnerID, 20000)
	losingBid := seedBid(t, ctx, pool, requestID, loserID, 25000)

	repo := NewRepository(pool)

	t.Run("stranger is rejected", func(t *testing.T) {
		_, err := repo.AcceptTx(ctx, winningBid, loserID, false)
		if !errors.Is(err, request.ErrForbidden) {
			t.Fatalf("got %v, want request.ErrForbidden", err)
		}
	})

	var first AcceptResult
	t.Run("owner accepts", func(t *testing.T) {
		first, err = repo.AcceptTx(ctx, winningBid, customerID, false)
		if err != nil {
			t.Fatalf("AcceptTx: %v", err)
		}
		if first.Bid.Status != StatusAccepted {
			t.Fatalf("winner status = %s, want %s", first.Bid.Status, StatusAccepted)
		}
		if len(first.RejectedContractorIDs) != 1 || first.RejectedContractorIDs[0] != loserID {
			t.Fatalf("rejected = %v, want [%s]", first.RejectedContractorIDs, loserID)
		}

		var reqStatus, selected string
		err = pool.QueryRow(ctx,
			`SELECT status::text, selected_contractor_id::text FROM requests WHERE id = $1`,
			requestID).Scan(&reqStatus, &selected)
		if err != nil {
			t.Fatalf("load request: %v", err)
		}
		if reqStatus != string(request.StatusContractorSelected) || selected != winnerID {
			t.Fatalf("request = (%s, %s), want (contractor_selected, %s)", reqStatus, selected, winnerID)
		}
	})

	t.Run("replay is idempotent", func(t *testing.T) {
		again, err := repo.AcceptTx(ctx, winningBid, customerID, false)
		if err != nil {
			t.Fatalf("replay AcceptTx: %v", err)
		}
		if again.Bid.ID != first.Bid.ID || again.Bid.Status != StatusAccepted {
			t.Fatalf("replay bid = %+v", again.Bid)
		}
		if len(again.RejectedContractorIDs) != 0 {
			t.Fatalf("replay rejected new siblings: %v", again.RejectedContractorIDs)
		}
	})

	t.Run("second winner is refused", func(t *testing.T) {
		_, err := repo.AcceptTx(ctx, losingBid, customerID, false)
		if !errors.Is(err, request.ErrInvalidTransition) && !errors.Is(err, ErrNotPending) {
			t.Fatalf("got %v, want ErrInvalidTransition or ErrNotPending", err)
		}
	})
}

func seedUser(t *testing.T, ctx context.Context, pool *pgxpool.Pool, role string) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO users (email, full_name, password_hash, role)
		VALUES ($1, 'integration', 'x', $2::user_role) RETURNING id::text
	`, fmt.Sprintf("%s-%s@it.test", role, uuid.NewString()), role).Scan(&id)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func seedClosedRequest(t *testing.T, ctx context.Context, pool *pgxpool.Pool, customerID string) string {
	t.Helper()
	end := time.Now().UTC().Add(-time.Hour)
	start := end.AddDate(0, 0, -request.BiddingPeriodDays)
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO requests (customer_id, category, budget_min, budget_max, status,
			inspection_date, bidding_start_date, bidding_end_date)
		VALUES ($1, 'bathroom', 1000, 90000, 'bidding_closed', $2, $2, $3)
		RETURNING id::text
	`, customerID, start, end).Scan(&id)
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return id
}

func seedInterest(t *testing.T, ctx context.Context, pool *pgxpool.Pool, requestID, contractorID string) {
	t.Helper()
	if _, err := pool.Exec(ctx, `
		INSERT INTO inspection_interests (request_id, contractor_id, will_participate)
		VALUES ($1, $2, true)
	`, requestID, contractorID); err != nil {
		t.Fatalf("seed interest: %v", err)
	}
}

func seedBid(t *testing.T, ctx context.Context, pool *pgxpool.Pool, requestID, contractorID string, labor int64) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO bids (request_id, contractor_id, labor_cost, material_cost,
			permit_cost, disposal_cost, total_amount, timeline_weeks)
		VALUES ($1, $2, $3, 0, 0, 0, $3, 6)
		RETURNING id::text
	`, requestID, contractorID, labor).Scan(&id)
	if err != nil {
		t.Fatalf("seed bid: %v", err)
	}
	return id
}
