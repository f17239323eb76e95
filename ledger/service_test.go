package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestDebit_NeverOverdraws(t *testing.T) {
	pool := &fakePool{}
	repo := newFakeRepo()
	repo.balances["contractor-1"] = 2
	svc := NewService(pool, repo)

	ctx := context.Background()
	params := DebitParams{ContractorID: "contractor-1", Amount: 1, JobID: "job-1"}

	for i := 0; i < 2; i++ {
		if _, err := svc.Debit(ctx, params); err != nil {
			t.Fatalf("debit %d: unexpected error: %v", i+1, err)
		}
	}

	if _, err := svc.Debit(ctx, params); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if got := repo.balances["contractor-1"]; got != 0 {
		t.Fatalf("expected final balance 0, got %d", got)
	}
	if len(repo.entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(repo.entries))
	}
}

func TestDebit_RejectsNonPositiveAmount(t *testing.T) {
	svc := NewService(&fakePool{}, newFakeRepo())

	for _, amount := range []int64{0, -5} {
		_, err := svc.Debit(context.Background(), DebitParams{ContractorID: "c", Amount: amount})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestCredit_RejectsDeductionKind(t *testing.T) {
	svc := NewService(&fakePool{}, newFakeRepo())

	_, err := svc.Credit(context.Background(), CreditParams{
		ContractorID: "contractor-1",
		Amount:       5,
		Kind:         KindDeduction,
	})
	if err == nil {
		t.Fatal("expected error for deduction kind on credit path")
	}
}

func TestCredit_AppendsEntry(t *testing.T) {
	pool := &fakePool{}
	repo := newFakeRepo()
	svc := NewService(pool, repo)

	jobID := "job-9"
	entry, err := svc.Credit(context.Background(), CreditParams{
		ContractorID: "contractor-1",
		Amount:       10,
		Kind:         KindDisputeRefund,
		JobID:        &jobID,
	})
	if err != nil {
		t.Fatalf("credit: unexpected error: %v", err)
	}
	if entry.Amount != 10 || entry.Kind != KindDisputeRefund {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if got := repo.balances["contractor-1"]; got != 10 {
		t.Fatalf("expected balance 10, got %d", got)
	}
	if !pool.tx.committed {
		t.Error("expected commit")
	}
}

func TestWeeklyAllocate_TopsUpToLimit(t *testing.T) {
	pool := &fakePool{}
	repo := newFakeRepo()
	repo.balances["contractor-1"] = 3
	svc := NewService(pool, repo)

	delta, err := svc.WeeklyAllocate(context.Background(), "contractor-1", 10)
	if err != nil {
		t.Fatalf("allocate: unexpected error: %v", err)
	}
	if delta != 7 {
		t.Fatalf("expected delta 7, got %d", delta)
	}
	if got := repo.balances["contractor-1"]; got != 10 {
		t.Fatalf("expected balance 10, got %d", got)
	}

	// re-running in the same week applies nothing
	delta, err = svc.WeeklyAllocate(context.Background(), "contractor-1", 10)
	if err != nil {
		t.Fatalf("second allocate: unexpected error: %v", err)
	}
	if delta != 0 {
		t.Fatalf("expected zero delta on re-run, got %d", delta)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected a single allocation entry, got %d", len(repo.entries))
	}
}

func TestWeeklyAllocate_NeverLowersBalance(t *testing.T) {
	repo := newFakeRepo()
	repo.balances["contractor-1"] = 20
	svc := NewService(&fakePool{}, repo)

	delta, err := svc.WeeklyAllocate(context.Background(), "contractor-1", 10)
	if err != nil {
		t.Fatalf("allocate: unexpected error: %v", err)
	}
	if delta != 0 {
		t.Fatalf("expected zero delta, got %d", delta)
	}
	if got := repo.balances["contractor-1"]; got != 20 {
		t.Fatalf("expected balance unchanged at 20, got %d", got)
	}
}

type fakeRepo struct {
	balances map[string]int64
	entries  []Transaction
	nextID   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{balances: make(map[string]int64), nextID: 1}
}

func (f *fakeRepo) LockBalance(ctx context.Context, tx pgx.Tx, contractorID string) (int64, error) {
	return f.balances[contractorID], nil
}

func (f *fakeRepo) Apply(ctx context.Context, tx pgx.Tx, t Transaction) (Transaction, error) {
	next := f.balances[t.ContractorID] + t.Amount
	if next < 0 {
		return Transaction{}, ErrInsufficientCredits
	}
	f.balances[t.ContractorID] = next
	t.ID = fmt.Sprintf("tx-%d", f.nextID)
	f.nextID++
	f.entries = append(f.entries, t)
	return t, nil
}

func (f *fakeRepo) Balance(ctx context.Context, contractorID string) (int64, error) {
	return f.balances[contractorID], nil
}

func (f *fakeRepo) History(ctx context.Context, contractorID string, limit int) ([]Transaction, error) {
	return f.entries, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
