package bid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"renoflow/request"
)

var (
	// ErrNotFound is returned when no bid row exists for the identifier.
	ErrNotFound = errors.New("bid: not found")
	// ErrNotPending signals a mutation on a bid that already left pending.
	ErrNotPending = errors.New("bid: not pending")
)

const bidColumns = `id, request_id, contractor_id, labor_cost, material_cost, permit_cost,
	disposal_cost, total_amount, timeline_weeks, start_date, scope_included, scope_excluded,
	notes, status::text, created_at, updated_at`

// UpsertParams carries a submit (create-or-replace) write.
type UpsertParams struct {
	ID            string
	RequestID     string
	ContractorID  string
	Breakdown     Breakdown
	TotalAmount   int64
	TimelineWeeks int
	StartDate     *time.Time
	ScopeIncluded string
	ScopeExcluded string
	Notes         string
}

// AcceptResult reports the effects of the atomic accept operation.
type AcceptResult struct {
	Bid                   Bid
	RejectedContractorIDs []string
}

// PGRepository stores bids in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Upsert creates the contractor's bid for the request or, while it is still
// pending, replaces every mutable field. The conflict target guarantees a
// single row per pair; a non-pending existing row refuses the write.
func (r *PGRepository) Upsert(ctx context.Context, params UpsertParams) (Bid, error) {
	const upsertSQL = `
		INSERT INTO bids (id, request_id, contractor_id, labor_cost, material_cost, permit_cost,
			disposal_cost, total_amount, timeline_weeks, start_date, scope_included, scope_excluded, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (request_id, contractor_id) DO UPDATE SET
			labor_cost = EXCLUDED.labor_cost,
			material_cost = EXCLUDED.material_cost,
			permit_cost = EXCLUDED.permit_cost,
			disposal_cost = EXCLUDED.disposal_cost,
			total_amount = EXCLUDED.total_amount,
			timeline_weeks = EXCLUDED.timeline_weeks,
			start_date = EXCLUDED.start_date,
			scope_included = EXCLUDED.scope_included,
			scope_excluded = EXCLUDED.scope_excluded,
			notes = EXCLUDED.notes,
			updated_at = now()
		WHERE bids.status = 'pending'
		RETURNING ` + bidColumns

	row := r.pool.QueryRow(ctx, upsertSQL,
		params.ID, params.RequestID, params.ContractorID,
		params.Breakdown.Labor, params.Breakdown.Material, params.Breakdown.Permit,
		params.Breakdown.Disposal, params.TotalAmount, params.TimelineWeeks,
		params.StartDate, params.ScopeIncluded, params.ScopeExcluded, params.Notes)
	rec, err := scanBid(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict row exists but is no longer pending.
			return Bid{}, ErrNotPending
		}
		return Bid{}, fmt.Errorf("bid: upsert: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Bid, error) {
	const selectSQL = `SELECT ` + bidColumns + ` FROM bids WHERE id = $1`

	rec, err := scanBid(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bid{}, ErrNotFound
		}
		return Bid{}, fmt.Errorf("bid: get: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) ListByContractor(ctx context.Context, contractorID string) ([]Bid, error) {
	const query = `
		SELECT ` + bidColumns + ` FROM bids
		WHERE contractor_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, contractorID)
	if err != nil {
		return nil, fmt.Errorf("bid: list by contractor: %w", err)
	}
	defer rows.Close()
	return collectBids(rows)
}

func (r *PGRepository) ListByRequest(ctx context.Context, requestID string) ([]Bid, error) {
	const query = `
		SELECT ` + bidColumns + ` FROM bids
		WHERE request_id = $1
		ORDER BY total_amount
	`
	rows, err := r.pool.Query(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("bid: list by request: %w", err)
	}
	defer rows.Close()
	return collectBids(rows)
}

// DeletePending withdraws a bid. The status predicate makes the delete a
// no-op once the bid left pending.
func (r *PGRepository) DeletePending(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM bids WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("bid: delete pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrNotPending
	}
	return nil
}

// AcceptTx executes the acceptance as one transaction: the target bid
// becomes accepted, every pending sibling on the same request becomes
// rejected, and the request itself moves to contractor_selected with the
// winning contractor recorded. The request row is locked first so a
// concurrent sweep or second accept serialises behind us.
func (r *PGRepository) AcceptTx(ctx context.Context, bidID, actorID string, actorIsAdmin bool) (AcceptResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("bid: begin accept tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var target Bid
	target, err = scanBid(tx.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE id = $1`, bidID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AcceptResult{}, ErrNotFound
		}
		return AcceptResult{}, fmt.Errorf("bid: load for accept: %w", err)
	}

	var (
		reqStatus  string
		customerID string
	)
	const lockSQL = `SELECT status::text, customer_id FROM requests WHERE id = $1 FOR UPDATE`
	if err := tx.QueryRow(ctx, lockSQL, target.RequestID).Scan(&reqStatus, &customerID); err != nil {
		return AcceptResult{}, fmt.Errorf("bid: lock request: %w", err)
	}
	if !actorIsAdmin && customerID != actorID {
		return AcceptResult{}, request.ErrForbidden
	}

	// Idempotent replay: the accept already happened for this bid.
	if target.Status == StatusAccepted && request.Status(reqStatus) == request.StatusContractorSelected {
		return AcceptResult{Bid: target}, nil
	}

	if _, err := request.Next(request.Status(reqStatus), request.EventSelectContractor); err != nil {
		return AcceptResult{}, err
	}
	if target.Status != StatusPending {
		return AcceptResult{}, ErrNotPending
	}

	accepted, err := scanBid(tx.QueryRow(ctx, `
		UPDATE bids SET status = 'accepted', updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+bidColumns, bidID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AcceptResult{}, ErrNotPending
		}
		return AcceptResult{}, fmt.Errorf("bid: mark accepted: %w", err)
	}

	rows, err := tx.Query(ctx, `
		UPDATE bids SET status = 'rejected', updated_at = now()
		WHERE request_id = $1 AND id <> $2 AND status = 'pending'
		RETURNING contractor_id
	`, target.RequestID, bidID)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("bid: reject siblings: %w", err)
	}
	rejected := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return AcceptResult{}, fmt.Errorf("bid: scan rejected sibling: %w", err)
		}
		rejected = append(rejected, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return AcceptResult{}, fmt.Errorf("bid: iterate rejected siblings: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE requests
		SET status = 'contractor_selected', selected_contractor_id = $2, updated_at = now()
		WHERE id = $1 AND status = $3::request_status
	`, target.RequestID, target.ContractorID, reqStatus)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("bid: select contractor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return AcceptResult{}, request.ErrStatusConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return AcceptResult{}, fmt.Errorf("bid: commit accept: %w", err)
	}

	return AcceptResult{Bid: accepted, RejectedContractorIDs: rejected}, nil
}

func collectBids(rows pgx.Rows) ([]Bid, error) {
	out := make([]Bid, 0, 8)
	for rows.Next() {
		rec, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("bid: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bid: iterate: %w", err)
	}
	return out, nil
}

func scanBid(row pgx.Row) (Bid, error) {
	var rec Bid
	err := row.Scan(
		&rec.ID,
		&rec.RequestID,
		&rec.ContractorID,
		&rec.Breakdown.Labor,
		&rec.Breakdown.Material,
		&rec.Breakdown.Permit,
		&rec.Breakdown.Disposal,
		&rec.TotalAmount,
		&rec.TimelineWeeks,
		&rec.StartDate,
		&rec.ScopeIncluded,
		&rec.ScopeExcluded,
		&rec.Notes,
		&rec.Status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Bid{}, err
	}
	return rec, nil
}
