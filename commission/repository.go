package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the commission payment does not exist.
	ErrNotFound = errors.New("commission: not found")
	// ErrDuplicate signals a second obligation for the same job.
	ErrDuplicate = errors.New("commission: payment already exists for job")
)

const paymentColumns = `id, job_id, contractor_id, commission_amount, total_amount,
	status::text, external_ref, due_at, paid_at, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertTx creates the obligation inside the caller's transaction. The unique
// constraint on job_id makes creation idempotent across callers.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO commission_payments (job_id, contractor_id, commission_amount, total_amount, due_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+paymentColumns,
		p.JobID, p.ContractorID, p.CommissionAmount, p.TotalAmount, p.DueAt)

	out, err := scanPayment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Payment{}, ErrDuplicate
		}
		return Payment{}, fmt.Errorf("commission: insert: %w", err)
	}
	return out, nil
}

// GetByJobTx reads the obligation for a job inside the caller's transaction.
func (r *Repository) GetByJobTx(ctx context.Context, tx pgx.Tx, jobID string) (Payment, error) {
	row := tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM commission_payments WHERE job_id = $1`, jobID)
	out, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("commission: get by job: %w", err)
	}
	return out, nil
}

// GetForUpdateTx locks the obligation row for a status change.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Payment, error) {
	row := tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM commission_payments WHERE id = $1 FOR UPDATE`, id)
	out, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("commission: get for update: %w", err)
	}
	return out, nil
}

// SetPaidTx marks the locked obligation paid.
func (r *Repository) SetPaidTx(ctx context.Context, tx pgx.Tx, id, externalRef string, paidAt time.Time) (Payment, error) {
	row := tx.QueryRow(ctx, `
		UPDATE commission_payments
		SET status = 'paid', external_ref = $2, paid_at = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+paymentColumns, id, externalRef, paidAt)
	out, err := scanPayment(row)
	if err != nil {
		return Payment{}, fmt.Errorf("commission: set paid: %w", err)
	}
	return out, nil
}

// AdjustAmountsTx overwrites the obligation's amounts during dispute resolution.
func (r *Repository) AdjustAmountsTx(ctx context.Context, tx pgx.Tx, jobID string, commissionAmount, totalAmount int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE commission_payments
		SET commission_amount = $2, total_amount = $3, updated_at = now()
		WHERE job_id = $1
	`, jobID, commissionAmount, totalAmount)
	if err != nil {
		return fmt.Errorf("commission: adjust amounts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkOverdueTx flips every pending obligation past its due date to overdue
// and returns the affected rows.
func (r *Repository) MarkOverdueTx(ctx context.Context, tx pgx.Tx, now time.Time) ([]Payment, error) {
	rows, err := tx.Query(ctx, `
		UPDATE commission_payments
		SET status = 'overdue', updated_at = now()
		WHERE status = 'pending' AND due_at <= $1
		RETURNING `+paymentColumns, now)
	if err != nil {
		return nil, fmt.Errorf("commission: mark overdue: %w", err)
	}
	defer rows.Close()

	out := make([]Payment, 0, 8)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("commission: scan overdue: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("commission: iterate overdue: %w", err)
	}
	return out, nil
}

// Get reads a single obligation outside any transaction.
func (r *Repository) Get(ctx context.Context, id string) (Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM commission_payments WHERE id = $1`, id)
	out, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("commission: get: %w", err)
	}
	return out, nil
}

// ListByContractor lists a contractor's obligations, newest first.
func (r *Repository) ListByContractor(ctx context.Context, contractorID string, limit int) ([]Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM commission_payments
		WHERE contractor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, contractorID, limit)
	if err != nil {
		return nil, fmt.Errorf("commission: list: %w", err)
	}
	defer rows.Close()

	out := make([]Payment, 0, limit)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("commission: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("commission: iterate: %w", err)
	}
	return out, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.JobID,
		&p.ContractorID,
		&p.CommissionAmount,
		&p.TotalAmount,
		&p.Status,
		&p.ExternalRef,
		&p.DueAt,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}
