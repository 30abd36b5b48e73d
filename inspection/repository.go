package inspection

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInterestNotFound is returned when no answer exists for the pair.
var ErrInterestNotFound = errors.New("inspection: interest not found")

// PGRepository stores inspection interests in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Upsert records or overwrites the contractor's answer for a request. The
// phase guard is part of the statement so an answer cannot slip in between
// the service's status check and the write.
func (r *PGRepository) Upsert(ctx context.Context, requestID, contractorID string, willParticipate bool) (Interest, error) {
	const upsertSQL = `
		INSERT INTO inspection_interests (request_id, contractor_id, will_participate)
		SELECT $1, $2, $3
		WHERE EXISTS (
			SELECT 1 FROM requests
			WHERE id = $1 AND status IN ('inspection_pending', 'inspection_scheduled')
		)
		ON CONFLICT (request_id, contractor_id)
		DO UPDATE SET will_participate = EXCLUDED.will_participate, updated_at = now()
		RETURNING request_id, contractor_id, will_participate, updated_at
	`

	var rec Interest
	err := r.pool.QueryRow(ctx, upsertSQL, requestID, contractorID, willParticipate).
		Scan(&rec.RequestID, &rec.ContractorID, &rec.WillParticipate, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Interest{}, ErrNotInInspectionPhase
		}
		return Interest{}, fmt.Errorf("inspection: upsert interest: %w", err)
	}
	return rec, nil
}

// Get returns the recorded answer for the pair.
func (r *PGRepository) Get(ctx context.Context, requestID, contractorID string) (Interest, error) {
	const selectSQL = `
		SELECT request_id, contractor_id, will_participate, updated_at
		FROM inspection_interests
		WHERE request_id = $1 AND contractor_id = $2
	`

	var rec Interest
	err := r.pool.QueryRow(ctx, selectSQL, requestID, contractorID).
		Scan(&rec.RequestID, &rec.ContractorID, &rec.WillParticipate, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Interest{}, ErrInterestNotFound
		}
		return Interest{}, fmt.Errorf("inspection: get interest: %w", err)
	}
	return rec, nil
}

// CountParticipants counts contractors who confirmed attendance.
func (r *PGRepository) CountParticipants(ctx context.Context, requestID string) (int, error) {
	const countSQL = `
		SELECT COUNT(*) FROM inspection_interests
		WHERE request_id = $1 AND will_participate
	`
	var n int
	if err := r.pool.QueryRow(ctx, countSQL, requestID).Scan(&n); err != nil {
		return 0, fmt.Errorf("inspection: count participants: %w", err)
	}
	return n, nil
}

// ListParticipants returns the contractor ids who confirmed attendance.
func (r *PGRepository) ListParticipants(ctx context.Context, requestID string) ([]string, error) {
	const listSQL = `
		SELECT contractor_id FROM inspection_interests
		WHERE request_id = $1 AND will_participate
		ORDER BY updated_at
	`
	rows, err := r.pool.Query(ctx, listSQL, requestID)
	if err != nil {
		return nil, fmt.Errorf("inspection: list participants: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("inspection: scan participant: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inspection: iterate participants: %w", err)
	}
	return out, nil
}

// Delete removes an answer (admin override only; normal flow never deletes).
func (r *PGRepository) Delete(ctx context.Context, requestID, contractorID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM inspection_interests WHERE request_id = $1 AND contractor_id = $2`,
		requestID, contractorID)
	if err != nil {
		return fmt.Errorf("inspection: delete interest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInterestNotFound
	}
	return nil
}
