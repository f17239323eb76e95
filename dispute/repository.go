package dispute

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
	// ErrNotFound signals the dispute does not exist.
	ErrNotFound = errors.New("dispute: not found")
	// ErrDuplicate signals the job already carries an open dispute.
	ErrDuplicate = errors.New("dispute: job already has an open dispute")
)

const disputeColumns = `id, job_id, raised_by, raiser_role::text, type::text, status::text,
	priority::text, description, evidence, resolution, resolution_notes, resolved_by,
	refund_credits, credit_amount, adjust_commission, commission_amount, complete_job,
	resolved_at, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertTx creates a dispute inside the caller's transaction. The partial
// unique index on open disputes rejects a second open dispute per job.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	evidence := rec.Evidence
	if evidence == nil {
		evidence = []string{}
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO disputes (job_id, raised_by, raiser_role, type, priority, description, evidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+disputeColumns,
		rec.JobID, rec.RaisedBy, rec.RaiserRole, rec.Type, rec.Priority, rec.Description, evidence)

	out, err := scanDispute(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicate
		}
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return out, nil
}

// GetForUpdateTx locks the dispute row for a status change.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	row := tx.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1 FOR UPDATE`, id)
	out, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get for update: %w", err)
	}
	return out, nil
}

// Get reads a dispute outside any transaction.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	out, err := scanDispute(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return out, nil
}

// ListByJob lists a job's disputes, newest first.
func (r *Repository) ListByJob(ctx context.Context, jobID string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+disputeColumns+` FROM disputes WHERE job_id = $1 ORDER BY created_at DESC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 4)
	for rows.Next() {
		rec, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// SetUnderReviewTx promotes an open dispute. A no-op when already promoted.
func (r *Repository) SetUnderReviewTx(ctx context.Context, tx pgx.Tx, id string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE disputes SET status = 'under_review', updated_at = now()
		WHERE id = $1 AND status = 'open'
	`, id); err != nil {
		return fmt.Errorf("dispute: set under review: %w", err)
	}
	return nil
}

// ResolveParams captures the verdict written by MarkResolvedTx.
type ResolveParams struct {
	Resolution       Resolution
	Notes            string
	AdminID          string
	RefundCredits    bool
	CreditAmount     *int64
	AdjustCommission bool
	CommissionAmount *int64
	CompleteJob      bool
	ResolvedAt       time.Time
}

// MarkResolvedTx records the verdict on the locked dispute row.
func (r *Repository) MarkResolvedTx(ctx context.Context, tx pgx.Tx, id string, params ResolveParams) (Record, error) {
	row := tx.QueryRow(ctx, `
		UPDATE disputes
		SET status = 'resolved', resolution = $2, resolution_notes = $3, resolved_by = $4,
		    refund_credits = $5, credit_amount = $6, adjust_commission = $7,
		    commission_amount = $8, complete_job = $9, resolved_at = $10, updated_at = now()
		WHERE id = $1
		RETURNING `+disputeColumns,
		id, params.Resolution, params.Notes, params.AdminID,
		params.RefundCredits, params.CreditAmount, params.AdjustCommission,
		params.CommissionAmount, params.CompleteJob, params.ResolvedAt)
	out, err := scanDispute(row)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: mark resolved: %w", err)
	}
	return out, nil
}

// MarkClosedTx terminates the locked dispute without financial effects.
func (r *Repository) MarkClosedTx(ctx context.Context, tx pgx.Tx, id, notes, adminID string, at time.Time) (Record, error) {
	row := tx.QueryRow(ctx, `
		UPDATE disputes
		SET status = 'closed', resolution_notes = $2, resolved_by = $3, resolved_at = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+disputeColumns, id, notes, adminID, at)
	out, err := scanDispute(row)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: mark closed: %w", err)
	}
	return out, nil
}

// InsertResponseTx appends a response inside the caller's transaction.
func (r *Repository) InsertResponseTx(ctx context.Context, tx pgx.Tx, resp Response) (Response, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO dispute_responses (dispute_id, author_id, message, is_internal)
		VALUES ($1, $2, $3, $4)
		RETURNING id, dispute_id, author_id, message, is_internal, created_at
	`, resp.DisputeID, resp.AuthorID, resp.Message, resp.IsInternal)

	var out Response
	if err := row.Scan(&out.ID, &out.DisputeID, &out.AuthorID, &out.Message, &out.IsInternal, &out.CreatedAt); err != nil {
		return Response{}, fmt.Errorf("dispute: insert response: %w", err)
	}
	return out, nil
}

// ListResponses lists a dispute's responses oldest first, optionally hiding
// internal ones.
func (r *Repository) ListResponses(ctx context.Context, disputeID string, includeInternal bool) ([]Response, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, dispute_id, author_id, message, is_internal, created_at
		FROM dispute_responses
		WHERE dispute_id = $1 AND ($2 OR NOT is_internal)
		ORDER BY created_at
	`, disputeID, includeInternal)
	if err != nil {
		return nil, fmt.Errorf("dispute: list responses: %w", err)
	}
	defer rows.Close()

	out := make([]Response, 0, 8)
	for rows.Next() {
		var resp Response
		if err := rows.Scan(&resp.ID, &resp.DisputeID, &resp.AuthorID, &resp.Message, &resp.IsInternal, &resp.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan response: %w", err)
		}
		out = append(out, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate responses: %w", err)
	}
	return out, nil
}

func scanDispute(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.JobID,
		&rec.RaisedBy,
		&rec.RaiserRole,
		&rec.Type,
		&rec.Status,
		&rec.Priority,
		&rec.Description,
		&rec.Evidence,
		&rec.Resolution,
		&rec.ResolutionNotes,
		&rec.ResolvedBy,
		&rec.RefundCredits,
		&rec.CreditAmount,
		&rec.AdjustCommission,
		&rec.CommissionAmount,
		&rec.CompleteJob,
		&rec.ResolvedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
