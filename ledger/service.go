package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"jobflow/db"
)

var (
	// ErrInsufficientCredits signals a debit larger than the current balance.
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
	// ErrInvalidAmount signals a zero or negative operation amount.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Repo defines the data access required by the service.
type Repo interface {
	LockBalance(ctx context.Context, tx pgx.Tx, contractorID string) (int64, error)
	Apply(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error)
	Balance(ctx context.Context, contractorID string) (int64, error)
	History(ctx context.Context, contractorID string, limit int) ([]Transaction, error)
}

// Service owns every mutation of a contractor's credit balance. Each mutation
// re-reads the balance under the row lock before writing, so the balance can
// never go negative and always equals the sum of the log.
type Service struct {
	pool db.TxBeginner
	repo Repo
}

func NewService(pool db.TxBeginner, repo Repo) *Service {
	return &Service{pool: pool, repo: repo}
}

type DebitParams struct {
	ContractorID string
	Amount       int64
	JobID        string
}

type CreditParams struct {
	ContractorID string
	Amount       int64
	Kind         Kind
	JobID        *string
	AdminID      *string
}

// Debit removes credits from a contractor's balance in its own transaction.
func (s *Service) Debit(ctx context.Context, params DebitParams) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("ledger: begin debit: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := s.DebitTx(ctx, tx, params)
	if err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("ledger: commit debit: %w", err)
	}
	return entry, nil
}

// DebitTx removes credits inside the caller's transaction. Callers use this
// to couple a debit to another write, e.g. a job access grant.
func (s *Service) DebitTx(ctx context.Context, tx pgx.Tx, params DebitParams) (Transaction, error) {
	if params.Amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}
	if params.ContractorID == "" {
		return Transaction{}, fmt.Errorf("ledger: missing contractor id")
	}

	balance, err := s.repo.LockBalance(ctx, tx, params.ContractorID)
	if err != nil {
		return Transaction{}, err
	}
	if balance < params.Amount {
		return Transaction{}, ErrInsufficientCredits
	}

	var jobID *string
	if params.JobID != "" {
		jobID = &params.JobID
	}

	return s.repo.Apply(ctx, tx, Transaction{
		ContractorID: params.ContractorID,
		Amount:       -params.Amount,
		Kind:         KindDeduction,
		JobID:        jobID,
	})
}

// Credit adds credits to a contractor's balance in its own transaction.
func (s *Service) Credit(ctx context.Context, params CreditParams) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, fmt.Errorf("ledger: begin credit: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := s.CreditTx(ctx, tx, params)
	if err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, fmt.Errorf("ledger: commit credit: %w", err)
	}
	return entry, nil
}

// CreditTx adds credits inside the caller's transaction. Dispute resolution
// uses this so the refund commits or rolls back with the rest of the
// resolution.
func (s *Service) CreditTx(ctx context.Context, tx pgx.Tx, params CreditParams) (Transaction, error) {
	if params.Amount <= 0 {
		return Transaction{}, ErrInvalidAmount
	}
	if params.ContractorID == "" {
		return Transaction{}, fmt.Errorf("ledger: missing contractor id")
	}
	switch params.Kind {
	case KindAddition, KindWeeklyAllocation, KindDisputeRefund:
	default:
		return Transaction{}, fmt.Errorf("ledger: invalid credit kind %q", params.Kind)
	}

	if _, err := s.repo.LockBalance(ctx, tx, params.ContractorID); err != nil {
		return Transaction{}, err
	}

	return s.repo.Apply(ctx, tx, Transaction{
		ContractorID: params.ContractorID,
		Amount:       params.Amount,
		Kind:         params.Kind,
		JobID:        params.JobID,
		AdminID:      params.AdminID,
	})
}

// WeeklyAllocate tops the balance up to the subscription tier's weekly limit.
// It only ever raises the balance; re-running it within the same week applies
// a zero delta and writes nothing. Returns the delta actually applied.
func (s *Service) WeeklyAllocate(ctx context.Context, contractorID string, tierLimit int64) (int64, error) {
	if contractorID == "" {
		return 0, fmt.Errorf("ledger: missing contractor id")
	}
	if tierLimit <= 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: begin allocation: %w", err)
	}
	defer tx.Rollback(ctx)

	balance, err := s.repo.LockBalance(ctx, tx, contractorID)
	if err != nil {
		return 0, err
	}

	delta := tierLimit - balance
	if delta <= 0 {
		return 0, nil
	}

	if _, err := s.repo.Apply(ctx, tx, Transaction{
		ContractorID: contractorID,
		Amount:       delta,
		Kind:         KindWeeklyAllocation,
	}); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ledger: commit allocation: %w", err)
	}
	return delta, nil
}

// Balance returns the contractor's current balance.
func (s *Service) Balance(ctx context.Context, contractorID string) (int64, error) {
	return s.repo.Balance(ctx, contractorID)
}

// History returns the contractor's most recent ledger entries.
func (s *Service) History(ctx context.Context, contractorID string, limit int) ([]Transaction, error) {
	return s.repo.History(ctx, contractorID, limit)
}
