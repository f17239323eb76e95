package commission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"jobflow/config"
	"jobflow/db"
)

// ErrAlreadySettled signals a payment confirmation for an obligation that is
// no longer pending or overdue, e.g. a duplicate gateway callback.
var ErrAlreadySettled = errors.New("commission: already settled")

// Repo defines the data access required by the service.
type Repo interface {
	InsertTx(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error)
	GetByJobTx(ctx context.Context, tx pgx.Tx, jobID string) (Payment, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Payment, error)
	SetPaidTx(ctx context.Context, tx pgx.Tx, id, externalRef string, paidAt time.Time) (Payment, error)
	AdjustAmountsTx(ctx context.Context, tx pgx.Tx, jobID string, commissionAmount, totalAmount int64) error
	MarkOverdueTx(ctx context.Context, tx pgx.Tx, now time.Time) ([]Payment, error)
	Get(ctx context.Context, id string) (Payment, error)
	ListByContractor(ctx context.Context, contractorID string, limit int) ([]Payment, error)
}

// OutboxWriter enqueues a message in the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service derives and settles the platform commission owed on completed jobs.
// The rate and due window come from configuration and are read at settlement
// time, never cached on the job.
type Service struct {
	pool    db.TxBeginner
	repo    Repo
	outbox  OutboxWriter
	rate    float64
	dueDays int
	now     func() time.Time
}

func NewService(pool db.TxBeginner, repo Repo, outbox OutboxWriter, billing config.BillingConfig) *Service {
	return &Service{
		pool:    pool,
		repo:    repo,
		outbox:  outbox,
		rate:    billing.CommissionRate,
		dueDays: billing.CommissionDueDays,
		now:     time.Now,
	}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type CreateParams struct {
	JobID        string
	ContractorID string
	FinalAmount  int64
}

// CreateForCompletedJobTx creates the obligation for a freshly completed job
// inside the caller's transaction. It is idempotent: a second call for the
// same job returns the existing record instead of creating another. Returns
// whether a new record was created.
func (s *Service) CreateForCompletedJobTx(ctx context.Context, tx pgx.Tx, params CreateParams) (Payment, bool, error) {
	if params.JobID == "" || params.ContractorID == "" {
		return Payment{}, false, fmt.Errorf("commission: missing job or contractor id")
	}
	if params.FinalAmount <= 0 {
		// no commission basis, no obligation
		return Payment{}, false, nil
	}

	amount := int64(math.Round(float64(params.FinalAmount) * s.rate))
	created, err := s.repo.InsertTx(ctx, tx, Payment{
		JobID:            params.JobID,
		ContractorID:     params.ContractorID,
		CommissionAmount: amount,
		TotalAmount:      params.FinalAmount,
		DueAt:            s.now().UTC().Add(time.Duration(s.dueDays) * 24 * time.Hour),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			existing, getErr := s.repo.GetByJobTx(ctx, tx, params.JobID)
			if getErr != nil {
				return Payment{}, false, getErr
			}
			return existing, false, nil
		}
		return Payment{}, false, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"commission_payment_id": created.ID,
			"job_id":                created.JobID,
			"contractor_id":         created.ContractorID,
			"commission_amount":     created.CommissionAmount,
			"due_at":                created.DueAt.UTC(),
		}
		if err := s.outbox.Enqueue(ctx, tx, "commission.created", payload); err != nil {
			return Payment{}, false, fmt.Errorf("commission: enqueue outbox: %w", err)
		}
	}

	return created, true, nil
}

// MarkPaid settles the obligation in its own transaction.
func (s *Service) MarkPaid(ctx context.Context, id, externalRef string) (Payment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payment{}, fmt.Errorf("commission: begin mark paid: %w", err)
	}
	defer tx.Rollback(ctx)

	paid, err := s.MarkPaidTx(ctx, tx, id, externalRef)
	if err != nil {
		return Payment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, fmt.Errorf("commission: commit mark paid: %w", err)
	}
	return paid, nil
}

// MarkPaidTx settles the obligation inside the caller's transaction. Fails
// with ErrAlreadySettled unless the obligation is pending or overdue, which
// blocks double-booking from duplicate gateway callbacks.
func (s *Service) MarkPaidTx(ctx context.Context, tx pgx.Tx, id, externalRef string) (Payment, error) {
	current, err := s.repo.GetForUpdateTx(ctx, tx, id)
	if err != nil {
		return Payment{}, err
	}
	if current.Status != StatusPending && current.Status != StatusOverdue {
		return Payment{}, ErrAlreadySettled
	}

	paid, err := s.repo.SetPaidTx(ctx, tx, id, externalRef, s.now().UTC())
	if err != nil {
		return Payment{}, err
	}

	if s.outbox != nil {
		payload := map[string]any{
			"commission_payment_id": paid.ID,
			"job_id":                paid.JobID,
			"contractor_id":         paid.ContractorID,
			"external_ref":          externalRef,
		}
		if err := s.outbox.Enqueue(ctx, tx, "commission.paid", payload); err != nil {
			return Payment{}, fmt.Errorf("commission: enqueue outbox: %w", err)
		}
	}

	return paid, nil
}

// AdjustTx overwrites the obligation's amounts inside the caller's
// transaction. Used only by dispute resolution.
func (s *Service) AdjustTx(ctx context.Context, tx pgx.Tx, jobID string, commissionAmount, totalAmount int64) error {
	if commissionAmount < 0 || totalAmount < 0 {
		return fmt.Errorf("commission: adjusted amounts must not be negative")
	}
	return s.repo.AdjustAmountsTx(ctx, tx, jobID, commissionAmount, totalAmount)
}

// MarkOverdue flips pending obligations past their due date to overdue and
// emits one event per obligation for the account-suspension policy to
// consume. Returns the number of obligations affected.
func (s *Service) MarkOverdue(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("commission: begin overdue sweep: %w", err)
	}
	defer tx.Rollback(ctx)

	overdue, err := s.repo.MarkOverdueTx(ctx, tx, s.now().UTC())
	if err != nil {
		return 0, err
	}

	if s.outbox != nil {
		for _, p := range overdue {
			payload := map[string]any{
				"commission_payment_id": p.ID,
				"job_id":                p.JobID,
				"contractor_id":         p.ContractorID,
				"commission_amount":     p.CommissionAmount,
				"due_at":                p.DueAt.UTC(),
			}
			if err := s.outbox.Enqueue(ctx, tx, "commission.overdue", payload); err != nil {
				return 0, fmt.Errorf("commission: enqueue overdue outbox: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commission: commit overdue sweep: %w", err)
	}
	return len(overdue), nil
}

// Get returns a single obligation.
func (s *Service) Get(ctx context.Context, id string) (Payment, error) {
	return s.repo.Get(ctx, id)
}

// ListByContractor lists a contractor's obligations.
func (s *Service) ListByContractor(ctx context.Context, contractorID string, limit int) ([]Payment, error) {
	return s.repo.ListByContractor(ctx, contractorID, limit)
}
