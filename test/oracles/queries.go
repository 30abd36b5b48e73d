package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the cross-table consistency checks. Each query selects rows
// that violate an invariant; an empty result means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_accepted_bid",
			SQL: `SELECT request_id, COUNT(*) FROM bids
                  WHERE status = 'accepted'
                  GROUP BY request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_bidding_window_arithmetic",
			SQL: `SELECT id FROM requests
                  WHERE bidding_end_date IS NOT NULL
                    AND bidding_end_date <> bidding_start_date + INTERVAL '7 days'`,
		},
		{
			Name: "O3_selection_consistency",
			SQL: `SELECT r.id FROM requests r
                  WHERE r.status IN ('contractor_selected','completed')
                    AND (r.selected_contractor_id IS NULL
                         OR NOT EXISTS (
                             SELECT 1 FROM bids b
                             WHERE b.request_id = r.id
                               AND b.contractor_id = r.selected_contractor_id
                               AND b.status = 'accepted'))`,
		},
		{
			Name: "O4_selection_leak",
			SQL: `SELECT id FROM requests
                  WHERE selected_contractor_id IS NOT NULL
                    AND status NOT IN ('contractor_selected','completed')`,
		},
		{
			Name: "O5_inspection_gate",
			SQL: `SELECT b.id FROM bids b
                  WHERE NOT EXISTS (
                      SELECT 1 FROM inspection_interests i
                      WHERE i.request_id = b.request_id
                        AND i.contractor_id = b.contractor_id
                        AND i.will_participate)`,
		},
		{
			Name: "O6_bid_total_recomputed",
			SQL: `SELECT id FROM bids
                  WHERE total_amount <> labor_cost + material_cost + permit_cost + disposal_cost`,
		},
		{
			Name: "O7_accepted_requires_selection",
			SQL: `SELECT b.id FROM bids b
                  JOIN requests r ON r.id = b.request_id
                  WHERE b.status = 'accepted'
                    AND r.status NOT IN ('contractor_selected','completed')`,
		},
		{
			Name: "O8_one_bid_per_pair",
			SQL: `SELECT request_id, contractor_id, COUNT(*) FROM bids
                  GROUP BY request_id, contractor_id HAVING COUNT(*) > 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
