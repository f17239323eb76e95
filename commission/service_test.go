package commission

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"jobflow/config"
)

var testBilling = config.BillingConfig{CommissionRate: 0.15, CommissionDueDays: 14}

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestCreateForCompletedJob_DerivesAmount(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(&fakePool{}, repo, nil, testBilling).WithClock(fixedClock)

	created, isNew, err := svc.CreateForCompletedJobTx(context.Background(), &fakeTx{}, CreateParams{
		JobID:        "job-1",
		ContractorID: "contractor-1",
		FinalAmount:  1000,
	})
	if err != nil {
		t.Fatalf("create: unexpected error: %v", err)
	}
	if !isNew {
		t.Fatal("expected a new obligation")
	}
	if created.CommissionAmount != 150 {
		t.Fatalf("expected commission 150, got %d", created.CommissionAmount)
	}
	wantDue := fixedClock().Add(14 * 24 * time.Hour)
	if !created.DueAt.Equal(wantDue) {
		t.Fatalf("expected due at %v, got %v", wantDue, created.DueAt)
	}
}

func TestCreateForCompletedJob_RoundsHalfUp(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(&fakePool{}, repo, nil, testBilling).WithClock(fixedClock)

	// 0.15 * 99 = 14.85 rounds to 15
	created, _, err := svc.CreateForCompletedJobTx(context.Background(), &fakeTx{}, CreateParams{
		JobID:        "job-1",
		ContractorID: "contractor-1",
		FinalAmount:  99,
	})
	if err != nil {
		t.Fatalf("create: unexpected error: %v", err)
	}
	if created.CommissionAmount != 15 {
		t.Fatalf("expected commission 15, got %d", created.CommissionAmount)
	}
}

func TestCreateForCompletedJob_Idempotent(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(&fakePool{}, repo, nil, testBilling).WithClock(fixedClock)
	ctx := context.Background()

	first, isNew, err := svc.CreateForCompletedJobTx(ctx, &fakeTx{}, CreateParams{
		JobID: "job-1", ContractorID: "contractor-1", FinalAmount: 1000,
	})
	if err != nil || !isNew {
		t.Fatalf("first create: err=%v isNew=%v", err, isNew)
	}

	second, isNew, err := svc.CreateForCompletedJobTx(ctx, &fakeTx{}, CreateParams{
		JobID: "job-1", ContractorID: "contractor-1", FinalAmount: 1000,
	})
	if err != nil {
		t.Fatalf("second create: unexpected error: %v", err)
	}
	if isNew {
		t.Fatal("expected second create to return the existing obligation")
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing id %s, got %s", first.ID, second.ID)
	}
	if len(repo.byJob) != 1 {
		t.Fatalf("expected one obligation, got %d", len(repo.byJob))
	}
}

func TestCreateForCompletedJob_SkipsZeroAmount(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(&fakePool{}, repo, nil, testBilling)

	_, isNew, err := svc.CreateForCompletedJobTx(context.Background(), &fakeTx{}, CreateParams{
		JobID: "job-1", ContractorID: "contractor-1", FinalAmount: 0,
	})
	if err != nil {
		t.Fatalf("create: unexpected error: %v", err)
	}
	if isNew || len(repo.byJob) != 0 {
		t.Fatal("expected no obligation for a zero final amount")
	}
}

func TestMarkPaid_RejectsDoubleSettlement(t *testing.T) {
	repo := newFakeRepo()
	pool := &fakePool{}
	svc := NewService(pool, repo, nil, testBilling).WithClock(fixedClock)
	ctx := context.Background()

	created, _, err := svc.CreateForCompletedJobTx(ctx, &fakeTx{}, CreateParams{
		JobID: "job-1", ContractorID: "contractor-1", FinalAmount: 1000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.MarkPaid(ctx, created.ID, "charge-1"); err != nil {
		t.Fatalf("first settle: unexpected error: %v", err)
	}

	if _, err := svc.MarkPaid(ctx, created.ID, "charge-2"); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
}

func TestMarkPaid_AllowsOverdue(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(&fakePool{}, repo, nil, testBilling).WithClock(fixedClock)
	ctx := context.Background()

	created, _, err := svc.CreateForCompletedJobTx(ctx, &fakeTx{}, CreateParams{
		JobID: "job-1", ContractorID: "contractor-1", FinalAmount: 1000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	repo.setStatus(created.ID, StatusOverdue)

	paid, err := svc.MarkPaid(ctx, created.ID, "charge-late")
	if err != nil {
		t.Fatalf("settle overdue: unexpected error: %v", err)
	}
	if paid.Status != StatusPaid {
		t.Fatalf("expected status paid, got %s", paid.Status)
	}
}

type fakeRepo struct {
	byID   map[string]Payment
	byJob  map[string]string
	nextID int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byID: make(map[string]Payment), byJob: make(map[string]string), nextID: 1}
}

func (f *fakeRepo) setStatus(id string, status Status) {
	p := f.byID[id]
	p.Status = status
	f.byID[id] = p
}

func (f *fakeRepo) InsertTx(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error) {
	if _, exists := f.byJob[p.JobID]; exists {
		return Payment{}, ErrDuplicate
	}
	p.ID = fmt.Sprintf("payment-%d", f.nextID)
	f.nextID++
	p.Status = StatusPending
	f.byID[p.ID] = p
	f.byJob[p.JobID] = p.ID
	return p, nil
}

func (f *fakeRepo) GetByJobTx(ctx context.Context, tx pgx.Tx, jobID string) (Payment, error) {
	id, ok := f.byJob[jobID]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return f.byID[id], nil
}

func (f *fakeRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id string) (Payment, error) {
	p, ok := f.byID[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) SetPaidTx(ctx context.Context, tx pgx.Tx, id, externalRef string, paidAt time.Time) (Payment, error) {
	p, ok := f.byID[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	p.Status = StatusPaid
	p.ExternalRef = &externalRef
	p.PaidAt = &paidAt
	f.byID[id] = p
	return p, nil
}

func (f *fakeRepo) AdjustAmountsTx(ctx context.Context, tx pgx.Tx, jobID string, commissionAmount, totalAmount int64) error {
	id, ok := f.byJob[jobID]
	if !ok {
		return ErrNotFound
	}
	p := f.byID[id]
	p.CommissionAmount = commissionAmount
	p.TotalAmount = totalAmount
	f.byID[id] = p
	return nil
}

func (f *fakeRepo) MarkOverdueTx(ctx context.Context, tx pgx.Tx, now time.Time) ([]Payment, error) {
	var out []Payment
	for id, p := range f.byID {
		if p.Status == StatusPending && p.DueAt.Before(now) {
			p.Status = StatusOverdue
			f.byID[id] = p
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (Payment, error) {
	p, ok := f.byID[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) ListByContractor(ctx context.Context, contractorID string, limit int) ([]Payment, error) {
	var out []Payment
	for _, p := range f.byID {
		if p.ContractorID == contractorID {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

// fakeTx satisfies pgx.Tx via embedding; only Commit and Rollback are called
// on the service paths under test.
type fakeTx struct {
	pgx.Tx
	rolled    bool
	committed bool
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}
