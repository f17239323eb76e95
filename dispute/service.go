package dispute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"jobflow/commission"
	"jobflow/db"
	"jobflow/job"
	"jobflow/ledger"
)

var (
	// ErrInvalidState signals an operation on a dispute or job whose status
	// does not admit it.
	ErrInvalidState = errors.New("dispute: invalid state for operation")
	// ErrRefundTargetMissing signals a credit refund on a job with no
	// contractor to refund.
	ErrRefundTargetMissing = errors.New("dispute: job has no contractor to refund")
)

// Repo defines the dispute data access required by the engine.
type Repo interface {
	InsertTx(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	ListByJob(ctx context.Context, jobID string) ([]Record, error)
	SetUnderReviewTx(ctx context.Context, tx pgx.Tx, id string) error
	MarkResolvedTx(ctx context.Context, tx pgx.Tx, id string, params ResolveParams) (Record, error)
	MarkClosedTx(ctx context.Context, tx pgx.Tx, id, notes, adminID string, at time.Time) (Record, error)
	InsertResponseTx(ctx context.Context, tx pgx.Tx, resp Response) (Response, error)
	ListResponses(ctx context.Context, disputeID string, includeInternal bool) ([]Response, error)
}

// JobStore is the slice of the job repository the engine needs. The engine is
// the only component besides the lifecycle controller allowed to write job
// status, and the only one allowed to write the disputed state.
type JobStore interface {
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (job.Job, error)
	SetStatusTx(ctx context.Context, tx pgx.Tx, id string, status job.Status) error
	SetCompletedTx(ctx context.Context, tx pgx.Tx, id string, finalAmount *int64, actor string, at time.Time, override bool) (job.Job, error)
}

// CreditWriter issues the refund inside the resolution transaction.
type CreditWriter interface {
	CreditTx(ctx context.Context, tx pgx.Tx, params ledger.CreditParams) (ledger.Transaction, error)
}

// CommissionAdjuster books and overwrites the obligation inside the
// resolution transaction.
type CommissionAdjuster interface {
	AdjustTx(ctx context.Context, tx pgx.Tx, jobID string, commissionAmount, totalAmount int64) error
	CreateForCompletedJobTx(ctx context.Context, tx pgx.Tx, params commission.CreateParams) (commission.Payment, bool, error)
}

// OutboxWriter enqueues a message in the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Engine manages the dispute state machine. Resolution runs as one atomic
// transaction across the dispute, the ledger, the commission obligation, and
// the job status; any failure rolls back every step.
type Engine struct {
	pool        db.TxBeginner
	repo        Repo
	jobs        JobStore
	credits     CreditWriter
	commissions CommissionAdjuster
	outbox      OutboxWriter
	now         func() time.Time
}

func NewEngine(pool db.TxBeginner, repo Repo, jobs JobStore, credits CreditWriter, commissions CommissionAdjuster, outbox OutboxWriter) *Engine {
	return &Engine{
		pool:        pool,
		repo:        repo,
		jobs:        jobs,
		credits:     credits,
		commissions: commissions,
		outbox:      outbox,
		now:         time.Now,
	}
}

// WithClock overrides the engine clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

type OpenParams struct {
	JobID       string
	RaisedBy    string
	RaiserRole  Role
	Type        Type
	Priority    Priority
	Description string
	Evidence    []string
}

// Open raises a dispute and pins the job to the disputed status. A job can
// carry at most one open dispute; a second attempt fails with ErrDuplicate.
func (e *Engine) Open(ctx context.Context, params OpenParams) (Record, error) {
	if params.JobID == "" || params.RaisedBy == "" {
		return Record{}, fmt.Errorf("dispute: missing job or raiser id")
	}
	if params.RaiserRole != RoleCustomer && params.RaiserRole != RoleContractor {
		return Record{}, fmt.Errorf("dispute: invalid raiser role %q", params.RaiserRole)
	}
	if params.Priority == "" {
		params.Priority = PriorityNormal
	}
	if params.Type == "" {
		params.Type = TypeOther
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin open: %w", err)
	}
	defer tx.Rollback(ctx)

	j, err := e.jobs.GetForUpdateTx(ctx, tx, params.JobID)
	if err != nil {
		return Record{}, err
	}
	if j.Status == job.StatusDisputed {
		// the pinned status implies an open dispute already exists
		return Record{}, ErrDuplicate
	}
	if !job.CanTransition(j.Status, job.StatusDisputed) {
		return Record{}, ErrInvalidState
	}

	rec, err := e.repo.InsertTx(ctx, tx, Record{
		JobID:       params.JobID,
		RaisedBy:    params.RaisedBy,
		RaiserRole:  params.RaiserRole,
		Type:        params.Type,
		Priority:    params.Priority,
		Description: params.Description,
		Evidence:    params.Evidence,
	})
	if err != nil {
		return Record{}, err
	}

	if err := e.jobs.SetStatusTx(ctx, tx, j.ID, job.StatusDisputed); err != nil {
		return Record{}, err
	}

	if err := e.enqueue(ctx, tx, "dispute.opened", map[string]any{
		"dispute_id": rec.ID,
		"job_id":     j.ID,
		"type":       string(rec.Type),
		"recipients": recipientsFor(j, params.RaisedBy, "Dispute opened",
			fmt.Sprintf("A dispute was opened on %q.", j.Title)),
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit open: %w", err)
	}
	return rec, nil
}

type RespondParams struct {
	DisputeID  string
	AuthorID   string
	Message    string
	IsInternal bool
}

// Respond appends a message to the dispute. The first non-internal response
// promotes an open dispute to under review and notifies the counterparty.
func (e *Engine) Respond(ctx context.Context, params RespondParams) (Response, error) {
	if params.Message == "" {
		return Response{}, fmt.Errorf("dispute: empty response message")
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("dispute: begin respond: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := e.repo.GetForUpdateTx(ctx, tx, params.DisputeID)
	if err != nil {
		return Response{}, err
	}
	if !rec.Status.IsOpen() {
		return Response{}, ErrInvalidState
	}

	resp, err := e.repo.InsertResponseTx(ctx, tx, Response{
		DisputeID:  params.DisputeID,
		AuthorID:   params.AuthorID,
		Message:    params.Message,
		IsInternal: params.IsInternal,
	})
	if err != nil {
		return Response{}, err
	}

	if !params.IsInternal {
		if rec.Status == StatusOpen {
			if err := e.repo.SetUnderReviewTx(ctx, tx, rec.ID); err != nil {
				return Response{}, err
			}
		}

		j, err := e.jobs.GetForUpdateTx(ctx, tx, rec.JobID)
		if err != nil {
			return Response{}, err
		}
		if err := e.enqueue(ctx, tx, "dispute.response_added", map[string]any{
			"dispute_id": rec.ID,
			"job_id":     rec.JobID,
			"recipients": recipientsFor(j, params.AuthorID, "New dispute response",
				fmt.Sprintf("There is a new response on the dispute for %q.", j.Title)),
		}); err != nil {
			return Response{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Response{}, fmt.Errorf("dispute: commit respond: %w", err)
	}
	return resp, nil
}

type ResolveRequest struct {
	DisputeID        string
	AdminID          string
	Resolution       Resolution
	Notes            string
	RefundCredits    bool
	CreditAmount     int64
	AdjustCommission bool
	CommissionAmount int64
	CompleteJob      bool
}

// Resolve closes the dispute with an administrator verdict. The dispute
// update, the optional credit refund, the job status change, and the
// optional commission adjustment execute in one transaction; a failure in
// any step leaves all of them unapplied. The adjustment runs after the job
// restore so it applies to an obligation booked by an override completion.
func (e *Engine) Resolve(ctx context.Context, req ResolveRequest) (Record, error) {
	if req.AdminID == "" {
		return Record{}, fmt.Errorf("dispute: missing resolving admin")
	}
	if req.RefundCredits && req.CreditAmount <= 0 {
		return Record{}, fmt.Errorf("dispute: refund requires a positive credit amount")
	}
	if req.AdjustCommission && req.CommissionAmount < 0 {
		return Record{}, fmt.Errorf("dispute: adjusted commission must not be negative")
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin resolve: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := e.repo.GetForUpdateTx(ctx, tx, req.DisputeID)
	if err != nil {
		return Record{}, err
	}
	if !rec.Status.IsOpen() {
		return Record{}, ErrInvalidState
	}

	j, err := e.jobs.GetForUpdateTx(ctx, tx, rec.JobID)
	if err != nil {
		return Record{}, err
	}

	params := ResolveParams{
		Resolution:       req.Resolution,
		Notes:            req.Notes,
		AdminID:          req.AdminID,
		RefundCredits:    req.RefundCredits,
		AdjustCommission: req.AdjustCommission,
		CompleteJob:      req.CompleteJob,
		ResolvedAt:       e.now().UTC(),
	}
	if req.RefundCredits {
		params.CreditAmount = &req.CreditAmount
	}
	if req.AdjustCommission {
		params.CommissionAmount = &req.CommissionAmount
	}

	resolved, err := e.repo.MarkResolvedTx(ctx, tx, rec.ID, params)
	if err != nil {
		return Record{}, err
	}

	if req.RefundCredits {
		if j.ContractorID == nil {
			return Record{}, ErrRefundTargetMissing
		}
		if _, err := e.credits.CreditTx(ctx, tx, ledger.CreditParams{
			ContractorID: *j.ContractorID,
			Amount:       req.CreditAmount,
			Kind:         ledger.KindDisputeRefund,
			JobID:        &j.ID,
			AdminID:      &req.AdminID,
		}); err != nil {
			return Record{}, err
		}
	}

	restored, err := e.restoreJob(ctx, tx, j, req.CompleteJob, req.AdminID)
	if err != nil {
		return Record{}, err
	}

	if req.AdjustCommission {
		total := req.CommissionAmount
		if restored.FinalAmount != nil {
			total = *restored.FinalAmount
		}
		if err := e.commissions.AdjustTx(ctx, tx, restored.ID, req.CommissionAmount, total); err != nil {
			return Record{}, err
		}
	}

	if err := e.enqueue(ctx, tx, "dispute.resolved", map[string]any{
		"dispute_id": resolved.ID,
		"job_id":     j.ID,
		"resolution": string(req.Resolution),
		"recipients": bothParties(j, "Dispute resolved",
			fmt.Sprintf("The dispute on %q has been resolved.", j.Title)),
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}
	return resolved, nil
}

type CloseParams struct {
	DisputeID string
	AdminID   string
	Reason    string
}

// Close terminates the dispute without financial side effects and returns
// the job to its pre-dispute state.
func (e *Engine) Close(ctx context.Context, params CloseParams) (Record, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin close: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := e.repo.GetForUpdateTx(ctx, tx, params.DisputeID)
	if err != nil {
		return Record{}, err
	}
	if !rec.Status.IsOpen() {
		return Record{}, ErrInvalidState
	}

	j, err := e.jobs.GetForUpdateTx(ctx, tx, rec.JobID)
	if err != nil {
		return Record{}, err
	}

	closed, err := e.repo.MarkClosedTx(ctx, tx, rec.ID, params.Reason, params.AdminID, e.now().UTC())
	if err != nil {
		return Record{}, err
	}

	if _, err := e.restoreJob(ctx, tx, j, false, params.AdminID); err != nil {
		return Record{}, err
	}

	if err := e.enqueue(ctx, tx, "dispute.closed", map[string]any{
		"dispute_id": closed.ID,
		"job_id":     j.ID,
		"recipients": bothParties(j, "Dispute closed",
			fmt.Sprintf("The dispute on %q was closed.", j.Title)),
	}); err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit close: %w", err)
	}
	return closed, nil
}

// Get returns a dispute by id.
func (e *Engine) Get(ctx context.Context, id string) (Record, error) {
	return e.repo.Get(ctx, id)
}

// ListByJob returns a job's disputes.
func (e *Engine) ListByJob(ctx context.Context, jobID string) ([]Record, error) {
	return e.repo.ListByJob(ctx, jobID)
}

// Responses returns a dispute's responses.
func (e *Engine) Responses(ctx context.Context, disputeID string, includeInternal bool) ([]Response, error) {
	return e.repo.ListResponses(ctx, disputeID, includeInternal)
}

// restoreJob moves the job out of the disputed status: to completed with the
// administrator-override marker, or back to the state implied by whether a
// final price was already proposed. Completing a job books the standard
// commission obligation when a final amount exists; a job completed without
// one owes nothing.
func (e *Engine) restoreJob(ctx context.Context, tx pgx.Tx, j job.Job, complete bool, adminID string) (job.Job, error) {
	if complete {
		cj, err := e.jobs.SetCompletedTx(ctx, tx, j.ID, j.ProposedAmount, adminID, e.now().UTC(), true)
		if err != nil {
			return job.Job{}, err
		}
		if cj.ContractorID != nil && cj.FinalAmount != nil {
			if _, _, err := e.commissions.CreateForCompletedJobTx(ctx, tx, commission.CreateParams{
				JobID:        cj.ID,
				ContractorID: *cj.ContractorID,
				FinalAmount:  *cj.FinalAmount,
			}); err != nil {
				return job.Job{}, err
			}
		}
		return cj, nil
	}
	next := job.StatusInProgress
	if j.ProposedAmount != nil {
		next = job.StatusAwaiting
	}
	if err := e.jobs.SetStatusTx(ctx, tx, j.ID, next); err != nil {
		return job.Job{}, err
	}
	j.Status = next
	return j, nil
}

func (e *Engine) enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if e.outbox == nil {
		return nil
	}
	if err := e.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
		return fmt.Errorf("dispute: enqueue outbox: %w", err)
	}
	return nil
}

// recipientsFor notifies the counterparty of the acting user, or both
// parties when the actor is an administrator.
func recipientsFor(j job.Job, actorID, title, message string) []map[string]any {
	switch {
	case actorID == j.CustomerID && j.ContractorID != nil:
		return []map[string]any{{"user_id": *j.ContractorID, "title": title, "message": message}}
	case j.ContractorID != nil && actorID == *j.ContractorID:
		return []map[string]any{{"user_id": j.CustomerID, "title": title, "message": message}}
	default:
		return bothParties(j, title, message)
	}
}

func bothParties(j job.Job, title, message string) []map[string]any {
	out := []map[string]any{{"user_id": j.CustomerID, "title": title, "message": message}}
	if j.ContractorID != nil {
		out = append(out, map[string]any{"user_id": *j.ContractorID, "title": title, "message": message})
	}
	return out
}
