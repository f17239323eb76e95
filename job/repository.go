package job

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
	// ErrNotFound signals the job does not exist.
	ErrNotFound = errors.New("job: not found")
	// ErrAccessExists signals the contractor already holds access to the job.
	ErrAccessExists = errors.New("job: access already granted")
)

const jobColumns = `id, customer_id, contractor_id, title, description, status::text,
	lead_price, budget, final_amount, proposed_amount, final_price_timeout_at,
	max_contractors, flagged, flag_reason, confirmed_by, confirmed_at,
	admin_override, cancel_reason, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertTx creates a job inside the caller's transaction.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, j Job) (Job, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO jobs (customer_id, title, description, status, lead_price, budget, max_contractors)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+jobColumns,
		j.CustomerID, j.Title, j.Description, j.Status, j.LeadPrice, j.Budget, j.MaxContractors)
	out, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("job: insert: %w", err)
	}
	return out, nil
}

// GetForUpdateTx locks the job row so the status check and the write form
// one atomic step.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Job, error) {
	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id)
	out, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: get for update: %w", err)
	}
	return out, nil
}

// Get reads a job outside any transaction.
func (r *Repository) Get(ctx context.Context, id string) (Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	out, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: get: %w", err)
	}
	return out, nil
}

// SetStatusTx writes a bare status change on the locked row.
func (r *Repository) SetStatusTx(ctx context.Context, tx pgx.Tx, id string, status Status) error {
	tag, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("job: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignContractorTx records the winning contractor and moves the job to
// in_progress.
func (r *Repository) AssignContractorTx(ctx context.Context, tx pgx.Tx, id, contractorID string) (Job, error) {
	row := tx.QueryRow(ctx, `
		UPDATE jobs
		SET contractor_id = $2, status = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns, id, contractorID, StatusInProgress)
	out, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("job: assign contractor: %w", err)
	}
	return out, nil
}

// SetProposedPriceTx stores the contractor's proposal and the confirmation
// deadline, moving the job to awaiting confirmation.
func (r *Repository) SetProposedPriceTx(ctx context.Context, tx pgx.Tx, id string, amount int64, timeoutAt time.Time) (Job, error) {
	row := tx.QueryRow(ctx, `
		UPDATE jobs
		SET proposed_amount = $2, final_price_timeout_at = $3, status = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns, id, amount, timeoutAt, StatusAwaiting)
	out, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("job: set proposed price: %w", err)
	}
	return out, nil
}

// SetCompletedTx finalises the job: fixes the final amount and records who
// confirmed it and when. The override flag marks administrator completion
// out of a dispute.
func (r *Repository) SetCompletedTx(ctx context.Context, tx pgx.Tx, id string, finalAmount *int64, actor string, at time.Time, override bool) (Job, error) {
	row := tx.QueryRow(ctx, `
		UPDATE jobs
		SET status = $2, final_amount = COALESCE($3, final_amount),
		    confirmed_by = $4, confirmed_at = $5, admin_override = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns, id, StatusCompleted, finalAmount, actor, at, override)
	out, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("job: set completed: %w", err)
	}
	return out, nil
}

// SetCancelledTx cancels the job with a reason.
func (r *Repository) SetCancelledTx(ctx context.Context, tx pgx.Tx, id, reason string) (Job, error) {
	row := tx.QueryRow(ctx, `
		UPDATE jobs
		SET status = $2, cancel_reason = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns, id, StatusCancelled, reason)
	out, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("job: set cancelled: %w", err)
	}
	return out, nil
}

// CountAccessTx counts granted accesses for the locked job.
func (r *Repository) CountAccessTx(ctx context.Context, tx pgx.Tx, jobID string) (int, error) {
	var n int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM job_access WHERE job_id = $1`, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("job: count access: %w", err)
	}
	return n, nil
}

// InsertAccessTx grants access; the (job, contractor) unique constraint
// rejects duplicates.
func (r *Repository) InsertAccessTx(ctx context.Context, tx pgx.Tx, a Access) (Access, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO job_access (job_id, contractor_id, source, payment_ref)
		VALUES ($1, $2, $3, $4)
		RETURNING id, job_id, contractor_id, source::text, payment_ref, refunded, created_at
	`, a.JobID, a.ContractorID, a.Source, a.PaymentRef)

	var out Access
	err := row.Scan(&out.ID, &out.JobID, &out.ContractorID, &out.Source, &out.PaymentRef, &out.Refunded, &out.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Access{}, ErrAccessExists
		}
		return Access{}, fmt.Errorf("job: insert access: %w", err)
	}
	return out, nil
}

// HasAccessTx reports whether the contractor holds access to the locked job.
func (r *Repository) HasAccessTx(ctx context.Context, tx pgx.Tx, jobID, contractorID string) (bool, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM job_access WHERE job_id = $1 AND contractor_id = $2)
	`, jobID, contractorID).Scan(&exists); err != nil {
		return false, fmt.Errorf("job: check access: %w", err)
	}
	return exists, nil
}

// DueForAutoConfirm lists jobs awaiting confirmation whose deadline has
// elapsed. The scheduler confirms each one individually so a lost race on a
// single job never blocks the pass.
func (r *Repository) DueForAutoConfirm(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM jobs
		WHERE status = $1 AND final_price_timeout_at <= $2
		ORDER BY final_price_timeout_at
	`, StatusAwaiting, now)
	if err != nil {
		return nil, fmt.Errorf("job: list due for auto confirm: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("job: scan due id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job: iterate due ids: %w", err)
	}
	return ids, nil
}

// AwaitingConfirmation lists jobs with a pending confirmation deadline for
// the reminder pass.
func (r *Repository) AwaitingConfirmation(ctx context.Context) ([]PendingConfirmation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_id, final_price_timeout_at
		FROM jobs
		WHERE status = $1 AND final_price_timeout_at IS NOT NULL
	`, StatusAwaiting)
	if err != nil {
		return nil, fmt.Errorf("job: list awaiting confirmation: %w", err)
	}
	defer rows.Close()

	out := make([]PendingConfirmation, 0, 16)
	for rows.Next() {
		var p PendingConfirmation
		if err := rows.Scan(&p.JobID, &p.CustomerID, &p.TimeoutAt); err != nil {
			return nil, fmt.Errorf("job: scan pending confirmation: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job: iterate pending confirmations: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (Job, error) {
	var j Job
	err := row.Scan(
		&j.ID,
		&j.CustomerID,
		&j.ContractorID,
		&j.Title,
		&j.Description,
		&j.Status,
		&j.LeadPrice,
		&j.Budget,
		&j.FinalAmount,
		&j.ProposedAmount,
		&j.FinalPriceTimeoutAt,
		&j.MaxContractors,
		&j.Flagged,
		&j.FlagReason,
		&j.ConfirmedBy,
		&j.ConfirmedAt,
		&j.AdminOverride,
		&j.CancelReason,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}
	return j, nil
}
