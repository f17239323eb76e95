package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"jobflow/commission"
	"jobflow/config"
	"jobflow/ledger"
	"jobflow/notify"
)

// TestJobLifecycle_Integration connects to a real PostgreSQL via DATABASE_URL
// and drives a job from posting to completion, verifying the credit debit,
// the commission obligation, and the outbox messages along the way.
func TestJobLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"jobs", "job_access", "credit_balances", "commission_payments", "outbox"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("database schema missing table %s; run migrations first", table)
		}
	}

	var customerID, contractorID string
	suffix := time.Now().UnixNano()
	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, role) VALUES ($1, 'Carol Customer', 'x', 'customer') RETURNING id`,
		fmt.Sprintf("carol+%d@example.com", suffix)).Scan(&customerID); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	if err := pool.QueryRow(ctx,
		`INSERT INTO users (email, full_name, password_hash, role) VALUES ($1, 'Chris Contractor', 'x', 'contractor') RETURNING id`,
		fmt.Sprintf("chris+%d@example.com", suffix)).Scan(&contractorID); err != nil {
		t.Fatalf("seed contractor: %v", err)
	}
	if _, err := pool.Exec(ctx,
		`INSERT INTO contractor_profiles (contractor_id, status) VALUES ($1, 'active')`, contractorID); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM outbox WHERE payload->>'customer_id' = $1 OR payload->>'contractor_id' = $2`, customerID, contractorID)
		pool.Exec(ctx2, `DELETE FROM commission_payments WHERE contractor_id = $1`, contractorID)
		pool.Exec(ctx2, `DELETE FROM job_access WHERE contractor_id = $1`, contractorID)
		pool.Exec(ctx2, `DELETE FROM credit_transactions WHERE contractor_id = $1`, contractorID)
		pool.Exec(ctx2, `DELETE FROM credit_balances WHERE contractor_id = $1`, contractorID)
		pool.Exec(ctx2, `DELETE FROM jobs WHERE customer_id = $1`, customerID)
		pool.Exec(ctx2, `DELETE FROM contractor_profiles WHERE contractor_id = $1`, contractorID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2)`, customerID, contractorID)
	})

	outbox := notify.NewOutbox()
	ledgerSvc := ledger.NewService(pool, ledger.NewRepository(pool))
	commissionSvc := commission.NewService(pool, commission.NewRepository(pool), outbox,
		config.BillingConfig{CommissionRate: 0.10, CommissionDueDays: 14})
	svc := NewService(pool, NewRepository(pool), ledgerSvc, commissionSvc, outbox, config.JobsConfig{
		FinalPriceTimeout:     48 * time.Hour,
		DefaultMaxContractors: 3,
	})

	// fund the wallet
	if _, err := ledgerSvc.Credit(ctx, ledger.CreditParams{
		ContractorID: contractorID,
		Amount:       10,
		Kind:         ledger.KindAddition,
	}); err != nil {
		t.Fatalf("fund wallet: %v", err)
	}

	posted, err := svc.Post(ctx, PostParams{
		CustomerID: customerID,
		Title:      "Repaint the kitchen",
		LeadPrice:  3,
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}

	if _, err := svc.PurchaseAccess(ctx, PurchaseAccessParams{
		JobID:        posted.ID,
		ContractorID: contractorID,
		UseCredits:   true,
	}); err != nil {
		t.Fatalf("purchase access: %v", err)
	}
	balance, err := ledgerSvc.Balance(ctx, contractorID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 7 {
		t.Fatalf("expected balance 7 after lead purchase, got %d", balance)
	}

	if _, err := svc.AssignContractor(ctx, AssignParams{
		JobID:        posted.ID,
		CustomerID:   customerID,
		ContractorID: contractorID,
	}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := svc.ProposeFinalPrice(ctx, ProposeFinalPriceParams{
		JobID:        posted.ID,
		ContractorID: contractorID,
		Amount:       500,
	}); err != nil {
		t.Fatalf("propose: %v", err)
	}

	completed, err := svc.ConfirmFinalPrice(ctx, ConfirmFinalPriceParams{
		JobID: posted.ID,
		Actor: customerID,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}
	if completed.FinalAmount == nil || *completed.FinalAmount != 500 {
		t.Fatalf("expected final amount 500, got %v", completed.FinalAmount)
	}

	// the completion created exactly one commission obligation
	var commissionAmount int64
	var commissionCount int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(MIN(commission_amount), 0) FROM commission_payments WHERE job_id = $1`,
		posted.ID).Scan(&commissionCount, &commissionAmount); err != nil {
		t.Fatalf("verify commission: %v", err)
	}
	if commissionCount != 1 || commissionAmount != 50 {
		t.Fatalf("expected one commission of 50, got count=%d amount=%d", commissionCount, commissionAmount)
	}

	var outboxCount int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE topic = 'job.completed' AND payload->>'job_id' = $1`,
		posted.ID).Scan(&outboxCount); err != nil {
		t.Fatalf("verify outbox: %v", err)
	}
	if outboxCount != 1 {
		t.Fatalf("expected 1 job.completed message, got %d", outboxCount)
	}

	// a replayed confirmation observes the terminal state
	if _, err := svc.ConfirmFinalPrice(ctx, ConfirmFinalPriceParams{
		JobID: posted.ID,
		Actor: customerID,
	}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on replay, got %v", err)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
