package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"jobflow/commission"
	"jobflow/config"
	"jobflow/db"
	"jobflow/ledger"
)

var (
	// ErrInvalidState signals an illegal status transition. The check and the
	// write happen under the same row lock, so a caller seeing this error can
	// be sure nothing was mutated.
	ErrInvalidState = errors.New("job: invalid state for operation")
	// ErrForbidden signals the actor does not own the job side required for
	// the operation.
	ErrForbidden = errors.New("job: forbidden")
	// ErrCapacityReached signals the job already has its maximum number of
	// contractors with access.
	ErrCapacityReached = errors.New("job: contractor capacity reached")
)

// Repo defines the data access required by the controller.
type Repo interface {
	InsertTx(ctx context.Context, tx pgx.Tx, j Job) (Job, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	AssignContractorTx(ctx context.Context, tx pgx.Tx, id, contractorID string) (Job, error)
	SetProposedPriceTx(ctx context.Context, tx pgx.Tx, id string, amount int64, timeoutAt time.Time) (Job, error)
	SetCompletedTx(ctx context.Context, tx pgx.Tx, id string, finalAmount *int64, actor string, at time.Time, override bool) (Job, error)
	SetCancelledTx(ctx context.Context, tx pgx.Tx, id, reason string) (Job, error)
	CountAccessTx(ctx context.Context, tx pgx.Tx, jobID string) (int, error)
	InsertAccessTx(ctx context.Context, tx pgx.Tx, a Access) (Access, error)
	HasAccessTx(ctx context.Context, tx pgx.Tx, jobID, contractorID string) (bool, error)
}

// CreditDebiter couples a ledger debit to the access grant transaction.
type CreditDebiter interface {
	DebitTx(ctx context.Context, tx pgx.Tx, params ledger.DebitParams) (ledger.Transaction, error)
}

// CommissionCreator creates the settlement obligation when a job completes.
type CommissionCreator interface {
	CreateForCompletedJobTx(ctx context.Context, tx pgx.Tx, params commission.CreateParams) (commission.Payment, bool, error)
}

// OutboxWriter enqueues a message in the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service is the only component allowed to write job status outside the
// dispute engine. Every transition reads the current status under a row lock
// and writes the next one in the same transaction.
type Service struct {
	pool        db.TxBeginner
	repo        Repo
	credits     CreditDebiter
	commissions CommissionCreator
	outbox      OutboxWriter
	timeout     time.Duration
	defaultMax  int
	now         func() time.Time
}

func NewService(pool db.TxBeginner, repo Repo, credits CreditDebiter, commissions CommissionCreator, outbox OutboxWriter, cfg config.JobsConfig) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		credits:     credits,
		commissions: commissions,
		outbox:      outbox,
		timeout:     cfg.FinalPriceTimeout,
		defaultMax:  cfg.DefaultMaxContractors,
		now:         time.Now,
	}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type PostParams struct {
	CustomerID     string
	Title          string
	Description    string
	LeadPrice      int64
	Budget         *int64
	MaxContractors int
}

// Post creates a job visible to contractors.
func (s *Service) Post(ctx context.Context, params PostParams) (Job, error) {
	if params.CustomerID == "" {
		return Job{}, fmt.Errorf("job: missing customer id")
	}
	if params.Title == "" {
		return Job{}, fmt.Errorf("job: title required")
	}
	if params.LeadPrice <= 0 {
		return Job{}, fmt.Errorf("job: lead price must be positive")
	}
	maxContractors := params.MaxContractors
	if maxContractors <= 0 {
		maxContractors = s.defaultMax
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin post: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.InsertTx(ctx, tx, Job{
		CustomerID:     params.CustomerID,
		Title:          params.Title,
		Description:    params.Description,
		Status:         StatusPosted,
		LeadPrice:      params.LeadPrice,
		Budget:         params.Budget,
		MaxContractors: maxContractors,
	})
	if err != nil {
		return Job{}, err
	}

	if err := s.enqueue(ctx, tx, "job.posted", map[string]any{
		"job_id":      created.ID,
		"customer_id": created.CustomerID,
		"lead_price":  created.LeadPrice,
	}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit post: %w", err)
	}
	return created, nil
}

type PurchaseAccessParams struct {
	JobID        string
	ContractorID string
	// UseCredits selects the ledger path; otherwise PaymentRef must carry an
	// already-verified gateway reference.
	UseCredits bool
	PaymentRef string
}

// PurchaseAccess grants a contractor visibility into a job, debiting credits
// or recording the direct payment, all in one transaction. The payment
// reference must be verified against the gateway before calling; no gateway
// I/O happens while the row locks are held.
func (s *Service) PurchaseAccess(ctx context.Context, params PurchaseAccessParams) (Access, error) {
	if params.JobID == "" || params.ContractorID == "" {
		return Access{}, fmt.Errorf("job: missing job or contractor id")
	}
	if !params.UseCredits && params.PaymentRef == "" {
		return Access{}, fmt.Errorf("job: payment reference required for direct purchase")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Access{}, fmt.Errorf("job: begin purchase: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdateTx(ctx, tx, params.JobID)
	if err != nil {
		return Access{}, err
	}
	if j.Status != StatusPosted {
		return Access{}, ErrInvalidState
	}

	count, err := s.repo.CountAccessTx(ctx, tx, j.ID)
	if err != nil {
		return Access{}, err
	}
	if count >= j.MaxContractors {
		return Access{}, ErrCapacityReached
	}

	access := Access{
		JobID:        j.ID,
		ContractorID: params.ContractorID,
		Source:       AccessSourceDirectPayment,
	}
	if params.UseCredits {
		access.Source = AccessSourceCredits
		if _, err := s.credits.DebitTx(ctx, tx, ledger.DebitParams{
			ContractorID: params.ContractorID,
			Amount:       j.LeadPrice,
			JobID:        j.ID,
		}); err != nil {
			return Access{}, err
		}
	} else {
		access.PaymentRef = &params.PaymentRef
	}

	granted, err := s.repo.InsertAccessTx(ctx, tx, access)
	if err != nil {
		return Access{}, err
	}

	if err := s.enqueue(ctx, tx, "job.access_granted", map[string]any{
		"job_id":        j.ID,
		"contractor_id": params.ContractorID,
		"source":        string(granted.Source),
	}); err != nil {
		return Access{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Access{}, fmt.Errorf("job: commit purchase: %w", err)
	}
	return granted, nil
}

type AssignParams struct {
	JobID        string
	CustomerID   string
	ContractorID string
}

// AssignContractor records the winning contractor and moves the job to
// in_progress. Only the owning customer may assign, and only to a contractor
// who purchased access.
func (s *Service) AssignContractor(ctx context.Context, params AssignParams) (Job, error) {
	if params.JobID == "" || params.ContractorID == "" {
		return Job{}, fmt.Errorf("job: missing job or contractor id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin assign: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdateTx(ctx, tx, params.JobID)
	if err != nil {
		return Job{}, err
	}
	if j.CustomerID != params.CustomerID {
		return Job{}, ErrForbidden
	}
	if !CanTransition(j.Status, StatusInProgress) {
		return Job{}, ErrInvalidState
	}

	hasAccess, err := s.repo.HasAccessTx(ctx, tx, j.ID, params.ContractorID)
	if err != nil {
		return Job{}, err
	}
	if !hasAccess {
		return Job{}, ErrForbidden
	}

	updated, err := s.repo.AssignContractorTx(ctx, tx, j.ID, params.ContractorID)
	if err != nil {
		return Job{}, err
	}

	if err := s.enqueue(ctx, tx, "job.assigned", map[string]any{
		"job_id":        updated.ID,
		"contractor_id": params.ContractorID,
		"recipients": []map[string]any{{
			"user_id": params.ContractorID,
			"title":   "You won the job",
			"message": fmt.Sprintf("The customer assigned you to %q.", updated.Title),
		}},
	}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit assign: %w", err)
	}
	return updated, nil
}

type ProposeFinalPriceParams struct {
	JobID        string
	ContractorID string
	Amount       int64
}

// ProposeFinalPrice records the contractor's final price and starts the
// confirmation window. Only valid from in_progress.
func (s *Service) ProposeFinalPrice(ctx context.Context, params ProposeFinalPriceParams) (Job, error) {
	if params.Amount <= 0 {
		return Job{}, fmt.Errorf("job: proposed amount must be positive")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin propose: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdateTx(ctx, tx, params.JobID)
	if err != nil {
		return Job{}, err
	}
	if j.Status != StatusInProgress {
		return Job{}, ErrInvalidState
	}
	if j.ContractorID == nil || *j.ContractorID != params.ContractorID {
		return Job{}, ErrForbidden
	}

	timeoutAt := s.now().UTC().Add(s.timeout)
	updated, err := s.repo.SetProposedPriceTx(ctx, tx, j.ID, params.Amount, timeoutAt)
	if err != nil {
		return Job{}, err
	}

	if err := s.enqueue(ctx, tx, "job.final_price_proposed", map[string]any{
		"job_id":     updated.ID,
		"amount":     params.Amount,
		"timeout_at": timeoutAt,
		"recipients": []map[string]any{{
			"user_id": updated.CustomerID,
			"title":   "Final price proposed",
			"message": fmt.Sprintf("Your contractor proposed a final price for %q. Confirm it or it will be accepted automatically.", updated.Title),
		}},
	}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit propose: %w", err)
	}
	return updated, nil
}

type ConfirmFinalPriceParams struct {
	JobID string
	// Actor is the confirming customer's id, or SystemActor when the
	// scheduler confirms on timeout.
	Actor string
}

// ConfirmFinalPrice accepts the proposed final price, completes the job, and
// creates the commission obligation, all in one transaction. Concurrent
// confirmations race on the row lock; the loser observes ErrInvalidState.
func (s *Service) ConfirmFinalPrice(ctx context.Context, params ConfirmFinalPriceParams) (Job, error) {
	if params.Actor == "" {
		return Job{}, fmt.Errorf("job: missing confirming actor")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin confirm: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdateTx(ctx, tx, params.JobID)
	if err != nil {
		return Job{}, err
	}
	if j.Status != StatusAwaiting {
		return Job{}, ErrInvalidState
	}
	if params.Actor != SystemActor && params.Actor != j.CustomerID {
		return Job{}, ErrForbidden
	}
	if j.ProposedAmount == nil {
		return Job{}, fmt.Errorf("job: no proposed amount on %s", j.ID)
	}

	updated, err := s.repo.SetCompletedTx(ctx, tx, j.ID, j.ProposedAmount, params.Actor, s.now().UTC(), false)
	if err != nil {
		return Job{}, err
	}

	if updated.ContractorID != nil && updated.FinalAmount != nil {
		if _, _, err := s.commissions.CreateForCompletedJobTx(ctx, tx, commission.CreateParams{
			JobID:        updated.ID,
			ContractorID: *updated.ContractorID,
			FinalAmount:  *updated.FinalAmount,
		}); err != nil {
			return Job{}, err
		}
	}

	recipients := []map[string]any{{
		"user_id": updated.CustomerID,
		"title":   "Job completed",
		"message": fmt.Sprintf("%q is complete.", updated.Title),
	}}
	if updated.ContractorID != nil {
		recipients = append(recipients, map[string]any{
			"user_id": *updated.ContractorID,
			"title":   "Job completed",
			"message": fmt.Sprintf("The final price for %q was confirmed.", updated.Title),
		})
	}
	if err := s.enqueue(ctx, tx, "job.completed", map[string]any{
		"job_id":       updated.ID,
		"final_amount": updated.FinalAmount,
		"confirmed_by": params.Actor,
		"recipients":   recipients,
	}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit confirm: %w", err)
	}
	return updated, nil
}

type CancelParams struct {
	JobID   string
	ActorID string
	Reason  string
}

// Cancel ends the job from any non-terminal, non-disputed state.
func (s *Service) Cancel(ctx context.Context, params CancelParams) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("job: begin cancel: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := s.repo.GetForUpdateTx(ctx, tx, params.JobID)
	if err != nil {
		return Job{}, err
	}
	if j.Status == StatusDisputed || !CanTransition(j.Status, StatusCancelled) {
		return Job{}, ErrInvalidState
	}

	updated, err := s.repo.SetCancelledTx(ctx, tx, j.ID, params.Reason)
	if err != nil {
		return Job{}, err
	}

	if err := s.enqueue(ctx, tx, "job.cancelled", map[string]any{
		"job_id": updated.ID,
		"reason": params.Reason,
	}); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Job{}, fmt.Errorf("job: commit cancel: %w", err)
	}
	return updated, nil
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, id string) (Job, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if s.outbox == nil {
		return nil
	}
	if err := s.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
		return fmt.Errorf("job: enqueue outbox: %w", err)
	}
	return nil
}
