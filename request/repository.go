package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no request row exists for the identifier.
	ErrNotFound = errors.New("request: not found")
	// ErrStatusConflict signals a conditional status update that matched the
	// id but not the expected status: another writer got there first.
	ErrStatusConflict = errors.New("request: status changed concurrently")
)

const requestColumns = `id, customer_id, category, budget_min, budget_max, timeline, postal_prefix,
	address, description, photo_refs, status::text, inspection_date, inspection_time,
	bidding_start_date, bidding_end_date, selected_contractor_id, cancel_reason, created_at, updated_at`

// Filters narrows List results.
type Filters struct {
	CustomerID string
	Status     Status
	Limit      int
}

// PGRepository implements the request store backed by PostgreSQL. Every
// status write is conditional on the expected current status so concurrent
// sweeps and direct actions serialise per row.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, req Request) (Request, error) {
	const insertSQL = `
		INSERT INTO requests (id, customer_id, category, budget_min, budget_max, timeline,
			postal_prefix, address, description, photo_refs, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::request_status)
		RETURNING ` + requestColumns

	row := r.pool.QueryRow(ctx, insertSQL,
		req.ID, req.CustomerID, req.Category, req.BudgetMin, req.BudgetMax, req.Timeline,
		req.PostalPrefix, req.Address, req.Description, req.PhotoRefs, req.Status)
	created, err := scanRequest(row)
	if err != nil {
		return Request{}, fmt.Errorf("request: create: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Request, error) {
	const selectSQL = `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	req, err := scanRequest(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("request: get: %w", err)
	}
	return req, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE 1=1`
	args := []any{}
	if filters.CustomerID != "" {
		args = append(args, filters.CustomerID)
		query += fmt.Sprintf(" AND customer_id = $%d", len(args))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		query += fmt.Sprintf(" AND status = $%d::request_status", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filters.Limit > 0 {
		args = append(args, filters.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("request: list: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// UpdateStatus applies a bare status transition conditionally: the row moves
// to next only if it still holds expected.
func (r *PGRepository) UpdateStatus(ctx context.Context, id string, expected, next Status) (Request, error) {
	const updateSQL = `
		UPDATE requests
		SET status = $3::request_status, updated_at = now()
		WHERE id = $1 AND status = $2::request_status
		RETURNING ` + requestColumns

	req, err := scanRequest(r.pool.QueryRow(ctx, updateSQL, id, expected, next))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, r.conflictOrMissing(ctx, id)
		}
		return Request{}, fmt.Errorf("request: update status: %w", err)
	}
	return req, nil
}

// ScheduleInspection confirms the inspection date and provisions the bidding
// window in the same conditional update.
func (r *PGRepository) ScheduleInspection(ctx context.Context, id string, expected Status, date time.Time, timeOfDay *string, bidStart, bidEnd time.Time) (Request, error) {
	const updateSQL = `
		UPDATE requests
		SET status = 'inspection_scheduled',
		    inspection_date = $3,
		    inspection_time = $4,
		    bidding_start_date = $5,
		    bidding_end_date = $6,
		    updated_at = now()
		WHERE id = $1 AND status = $2::request_status
		RETURNING ` + requestColumns

	req, err := scanRequest(r.pool.QueryRow(ctx, updateSQL, id, expected, date, timeOfDay, bidStart, bidEnd))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, r.conflictOrMissing(ctx, id)
		}
		return Request{}, fmt.Errorf("request: schedule inspection: %w", err)
	}
	return req, nil
}

// Cancel closes the request with an optional reason, conditional on the
// current status still being one of allowed.
func (r *PGRepository) Cancel(ctx context.Context, id string, expected Status, reason *string) (Request, error) {
	const updateSQL = `
		UPDATE requests
		SET status = 'closed', cancel_reason = $3, updated_at = now()
		WHERE id = $1 AND status = $2::request_status
		RETURNING ` + requestColumns

	req, err := scanRequest(r.pool.QueryRow(ctx, updateSQL, id, expected, reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, r.conflictOrMissing(ctx, id)
		}
		return Request{}, fmt.Errorf("request: cancel: %w", err)
	}
	return req, nil
}

// ListInspectionDue returns inspection_scheduled requests whose inspection
// date has passed: candidates for opening bidding.
func (r *PGRepository) ListInspectionDue(ctx context.Context, now time.Time) ([]Request, error) {
	const query = `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE status = 'inspection_scheduled' AND inspection_date <= $1
		ORDER BY inspection_date
	`
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("request: list inspection due: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// ListBiddingExpired returns bidding_open requests whose window has elapsed.
func (r *PGRepository) ListBiddingExpired(ctx context.Context, now time.Time) ([]Request, error) {
	const query = `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE status = 'bidding_open' AND bidding_end_date <= $1
		ORDER BY bidding_end_date
	`
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("request: list bidding expired: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// ListAutoCancelDue returns bidding_closed requests past the grace cutoff
// with no contractor selected.
func (r *PGRepository) ListAutoCancelDue(ctx context.Context, cutoff time.Time) ([]Request, error) {
	const query = `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE status = 'bidding_closed'
		  AND bidding_end_date <= $1
		  AND selected_contractor_id IS NULL
		ORDER BY bidding_end_date
	`
	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("request: list auto-cancel due: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// conflictOrMissing distinguishes a lost conditional update from a missing
// row after a zero-row UPDATE.
func (r *PGRepository) conflictOrMissing(ctx context.Context, id string) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status::text FROM requests WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("request: fetch status after conflict: %w", err)
	}
	return ErrStatusConflict
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	out := make([]Request, 0, 8)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("request: scan: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("request: iterate: %w", err)
	}
	return out, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(
		&req.ID,
		&req.CustomerID,
		&req.Category,
		&req.BudgetMin,
		&req.BudgetMax,
		&req.Timeline,
		&req.PostalPrefix,
		&req.Address,
		&req.Description,
		&req.PhotoRefs,
		&req.Status,
		&req.InspectionDate,
		&req.InspectionTime,
		&req.BiddingStartDate,
		&req.BiddingEndDate,
		&req.SelectedContractorID,
		&req.CancelReason,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return Request{}, err
	}
	return req, nil
}
