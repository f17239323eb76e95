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

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_balance_matches_ledger",
			SQL: `SELECT b.contractor_id, b.balance, COALESCE(SUM(t.amount), 0) AS ledger_sum
                  FROM credit_balances b
                  LEFT JOIN credit_transactions t ON t.contractor_id = b.contractor_id
                  GROUP BY b.contractor_id, b.balance
                  HAVING b.balance <> COALESCE(SUM(t.amount), 0)`,
		},
		{
			Name: "O2_no_negative_balance",
			SQL:  `SELECT contractor_id, balance FROM credit_balances WHERE balance < 0`,
		},
		{
			Name: "O3_single_open_dispute",
			SQL: `SELECT job_id, COUNT(*) FROM disputes
                  WHERE status IN ('open', 'under_review')
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_single_commission_per_job",
			SQL: `SELECT job_id, COUNT(*) FROM commission_payments
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_completed_jobs_fully_recorded",
			SQL: `SELECT id FROM jobs
                  WHERE status = 'completed'
                    AND (final_amount IS NULL OR confirmed_by IS NULL OR confirmed_at IS NULL)`,
		},
		{
			Name: "O6_access_within_capacity",
			SQL: `SELECT a.job_id, COUNT(*), j.max_contractors
                  FROM job_access a
                  JOIN jobs j ON j.id = a.job_id
                  GROUP BY a.job_id, j.max_contractors
                  HAVING COUNT(*) > j.max_contractors`,
		},
		{
			Name: "O7_awaiting_jobs_have_deadline",
			SQL: `SELECT id FROM jobs
                  WHERE status = 'awaiting_final_price_confirmation'
                    AND (proposed_amount IS NULL OR final_price_timeout_at IS NULL)`,
		},
		{
			Name: "O8_commission_matches_completion",
			SQL: `SELECT c.id FROM commission_payments c
                  JOIN jobs j ON j.id = c.job_id
                  WHERE j.status NOT IN ('completed', 'disputed')`,
		},
		{
			Name: "O9_paid_commissions_stamped",
			SQL: `SELECT id FROM commission_payments
                  WHERE status = 'paid' AND (paid_at IS NULL OR external_ref IS NULL)`,
		},
		{
			Name: "O10_disputed_jobs_have_live_dispute",
			SQL: `SELECT j.id FROM jobs j
                  WHERE j.status = 'disputed'
                    AND NOT EXISTS (SELECT 1 FROM disputes d
                                    WHERE d.job_id = j.id AND d.status IN ('open', 'under_review'))`,
		},
		{
			Name: "O11_resolved_disputes_stamped",
			SQL: `SELECT id FROM disputes
                  WHERE status IN ('resolved', 'closed') AND resolved_at IS NULL`,
		},
		{
			Name: "O12_outbox_drains",
			SQL: `SELECT id, topic FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
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
