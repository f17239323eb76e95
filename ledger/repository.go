package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides data access for contractor credit balances and the
// transaction log. Mutations run inside a caller-supplied transaction so the
// balance update and the log append commit or roll back together.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LockBalance takes the exclusive row lock on the contractor's balance and
// returns the current value. The row is created lazily on first use.
func (r *Repository) LockBalance(ctx context.Context, tx pgx.Tx, contractorID string) (int64, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_balances (contractor_id) VALUES ($1)
		ON CONFLICT (contractor_id) DO NOTHING
	`, contractorID); err != nil {
		return 0, fmt.Errorf("ledger: ensure balance row: %w", err)
	}

	var balance int64
	if err := tx.QueryRow(ctx, `
		SELECT balance FROM credit_balances WHERE contractor_id = $1 FOR UPDATE
	`, contractorID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("ledger: lock balance: %w", err)
	}
	return balance, nil
}

// Apply adjusts the cached balance and appends the matching log entry. The
// caller must already hold the balance row lock via LockBalance.
func (r *Repository) Apply(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		UPDATE credit_balances
		SET balance = balance + $2, updated_at = now()
		WHERE contractor_id = $1
		RETURNING balance
	`, t.ContractorID, t.Amount).Scan(&balance)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			// balance >= 0 check constraint; backstop behind the service's
			// own guard under the row lock
			return Transaction{}, ErrInsufficientCredits
		}
		return Transaction{}, fmt.Errorf("ledger: update balance: %w", err)
	}

	out := t
	if err := tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (contractor_id, amount, kind, job_id, admin_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, t.ContractorID, t.Amount, t.Kind, t.JobID, t.AdminID).Scan(&out.ID, &out.CreatedAt); err != nil {
		return Transaction{}, fmt.Errorf("ledger: append entry: %w", err)
	}

	return out, nil
}

// Balance reads the cached balance projection.
func (r *Repository) Balance(ctx context.Context, contractorID string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `
		SELECT balance FROM credit_balances WHERE contractor_id = $1
	`, contractorID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: read balance: %w", err)
	}
	return balance, nil
}

// SumEntries recomputes the balance from the log. Used by conservation checks.
func (r *Repository) SumEntries(ctx context.Context, contractorID string) (int64, error) {
	var sum int64
	if err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE contractor_id = $1
	`, contractorID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("ledger: sum entries: %w", err)
	}
	return sum, nil
}

// History lists the most recent entries for a contractor.
func (r *Repository) History(ctx context.Context, contractorID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, contractor_id, amount, kind, job_id, admin_id, created_at
		FROM credit_transactions
		WHERE contractor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, contractorID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: history: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0, limit)
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.ContractorID, &t.Amount, &t.Kind, &t.JobID, &t.AdminID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate entries: %w", err)
	}
	return out, nil
}
