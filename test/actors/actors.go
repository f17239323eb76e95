package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobflow/dispute"
	"jobflow/job"
	"jobflow/ledger"
	"jobflow/notify"
)

// Deps carries the real services the actors drive. The actors never write
// job or dispute state with raw SQL; all mutations go through the same code
// paths production traffic takes.
type Deps struct {
	Pool     *pgxpool.Pool
	Jobs     *job.Service
	Disputes *dispute.Engine
	Credits  *ledger.Service
	Relay    *notify.Worker
}

// tolerable reports whether an error is an expected outcome under
// contention rather than a bug. The chaos routine kills random backends,
// so severed connections count as expected too.
func tolerable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "57P01" { // admin_shutdown
		return true
	}
	if strings.Contains(err.Error(), "conn closed") || strings.Contains(err.Error(), "unexpected EOF") {
		return true
	}
	return errors.Is(err, job.ErrInvalidState) ||
		errors.Is(err, job.ErrForbidden) ||
		errors.Is(err, job.ErrCapacityReached) ||
		errors.Is(err, job.ErrAccessExists) ||
		errors.Is(err, job.ErrNotFound) ||
		errors.Is(err, ledger.ErrInsufficientCredits) ||
		errors.Is(err, dispute.ErrDuplicate) ||
		errors.Is(err, dispute.ErrInvalidState) ||
		errors.Is(err, pgx.ErrNoRows)
}

func randomJob(ctx context.Context, pool *pgxpool.Pool, status string) (string, error) {
	var id string
	err := pool.QueryRow(ctx,
		`SELECT id FROM jobs WHERE status=$1 ORDER BY random() LIMIT 1`, status).Scan(&id)
	return id, err
}

// Poster keeps fresh jobs flowing so the other actors always have targets.
func Poster(ctx context.Context, deps Deps, customerID string, stop <-chan struct{}) error {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		n++
		_, err := deps.Jobs.Post(ctx, job.PostParams{
			CustomerID: customerID,
			Title:      fmt.Sprintf("stress job %d", n),
			LeadPrice:  int64(1 + rand.Intn(3)),
		})
		if err != nil && !tolerable(err) {
			return fmt.Errorf("poster: %w", err)
		}
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

// Buyer purchases access to posted jobs on credits. Under contention it is
// expected to hit capacity, duplicate access, and empty-wallet errors.
func Buyer(ctx context.Context, deps Deps, contractorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		jobID, err := randomJob(ctx, deps.Pool, "posted")
		if err == nil {
			_, err = deps.Jobs.PurchaseAccess(ctx, job.PurchaseAccessParams{
				JobID:        jobID,
				ContractorID: contractorID,
				UseCredits:   true,
			})
		}
		if err != nil && !tolerable(err) {
			return fmt.Errorf("buyer: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Advancer plays the customer and the contractor, pushing random jobs one
// step further through the lifecycle on each tick.
func Advancer(ctx context.Context, deps Deps, customerID, contractorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := advanceOne(ctx, deps, customerID, contractorID); err != nil && !tolerable(err) {
			return fmt.Errorf("advancer: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

func advanceOne(ctx context.Context, deps Deps, customerID, contractorID string) error {
	switch rand.Intn(3) {
	case 0:
		jobID, err := randomJob(ctx, deps.Pool, "posted")
		if err != nil {
			return err
		}
		_, err = deps.Jobs.AssignContractor(ctx, job.AssignParams{
			JobID:        jobID,
			CustomerID:   customerID,
			ContractorID: contractorID,
		})
		return err
	case 1:
		jobID, err := randomJob(ctx, deps.Pool, "in_progress")
		if err != nil {
			return err
		}
		_, err = deps.Jobs.ProposeFinalPrice(ctx, job.ProposeFinalPriceParams{
			JobID:        jobID,
			ContractorID: contractorID,
			Amount:       int64(100 + rand.Intn(900)),
		})
		return err
	default:
		jobID, err := randomJob(ctx, deps.Pool, "awaiting_final_price_confirmation")
		if err != nil {
			return err
		}
		_, err = deps.Jobs.ConfirmFinalPrice(ctx, job.ConfirmFinalPriceParams{
			JobID: jobID,
			Actor: customerID,
		})
		return err
	}
}

// AutoConfirmer races the customer on awaiting jobs the way the scheduler
// does. Exactly one of the two racers wins the row lock.
func AutoConfirmer(ctx context.Context, deps Deps, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		jobID, err := randomJob(ctx, deps.Pool, "awaiting_final_price_confirmation")
		if err == nil {
			_, err = deps.Jobs.ConfirmFinalPrice(ctx, job.ConfirmFinalPriceParams{
				JobID: jobID,
				Actor: job.SystemActor,
			})
		}
		if err != nil && !tolerable(err) {
			return fmt.Errorf("autoconfirmer: %w", err)
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Disputer opens disputes on live jobs and has the admin resolve them with
// a refund, exercising the multi-entity resolution transaction.
func Disputer(ctx context.Context, deps Deps, customerID, adminID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := disputeOne(ctx, deps, customerID, adminID); err != nil && !tolerable(err) {
			return fmt.Errorf("disputer: %w", err)
		}
		time.Sleep(time.Duration(150+rand.Intn(150)) * time.Millisecond)
	}
}

func disputeOne(ctx context.Context, deps Deps, customerID, adminID string) error {
	status := "in_progress"
	if rand.Intn(2) == 0 {
		status = "awaiting_final_price_confirmation"
	}
	jobID, err := randomJob(ctx, deps.Pool, status)
	if err != nil {
		return err
	}
	rec, err := deps.Disputes.Open(ctx, dispute.OpenParams{
		JobID:       jobID,
		RaisedBy:    customerID,
		RaiserRole:  dispute.RoleCustomer,
		Type:        dispute.TypeQuality,
		Description: "stress dispute",
	})
	if err != nil {
		return err
	}
	req := dispute.ResolveRequest{
		DisputeID:  rec.ID,
		AdminID:    adminID,
		Resolution: dispute.ResolutionNoAction,
	}
	if rand.Intn(2) == 0 {
		req.Resolution = dispute.ResolutionFavorCustomer
		req.RefundCredits = true
		req.CreditAmount = int64(1 + rand.Intn(5))
	}
	_, err = deps.Disputes.Resolve(ctx, req)
	if errors.Is(err, dispute.ErrRefundTargetMissing) {
		// job never had a contractor assigned; close without a refund
		req.RefundCredits = false
		req.CreditAmount = 0
		_, err = deps.Disputes.Resolve(ctx, req)
	}
	return err
}

// Topper keeps the contractor wallet funded so the buyers never starve.
func Topper(ctx context.Context, deps Deps, contractorID, adminID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := deps.Credits.Credit(ctx, ledger.CreditParams{
			ContractorID: contractorID,
			Amount:       int64(5 + rand.Intn(10)),
			Kind:         ledger.KindAddition,
			AdminID:      &adminID,
		})
		if err != nil && !tolerable(err) {
			return fmt.Errorf("topper: %w", err)
		}
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

// RelayWorker drains the outbox with the production relay so the
// stale-outbox oracle has teeth.
func RelayWorker(ctx context.Context, deps Deps, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := deps.Relay.RunPass(ctx); err != nil && !tolerable(err) {
			return fmt.Errorf("relay: %w", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
