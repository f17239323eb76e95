package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSubscriptionNotFound signals no subscription matches the reference.
var ErrSubscriptionNotFound = errors.New("payment: subscription not found")

const subscriptionColumns = `id, contractor_id, external_ref, tier, weekly_credit_limit, status::text, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ClaimEventTx registers the webhook event id inside the caller's
// transaction. Returns false when another delivery already claimed it; the
// caller then skips the event's effects entirely.
func (r *Repository) ClaimEventTx(ctx context.Context, tx pgx.Tx, key string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO idempotency (key) VALUES ($1) ON CONFLICT (key) DO NOTHING
	`, key)
	if err != nil {
		return false, fmt.Errorf("payment: claim event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertSubscriptionTx creates or refreshes the contractor's subscription.
func (r *Repository) UpsertSubscriptionTx(ctx context.Context, tx pgx.Tx, sub Subscription) (Subscription, error) {
	row := tx.QueryRow(ctx, `
		INSERT INTO subscriptions (contractor_id, external_ref, tier, weekly_credit_limit, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (contractor_id) DO UPDATE
		SET external_ref = EXCLUDED.external_ref, tier = EXCLUDED.tier,
		    weekly_credit_limit = EXCLUDED.weekly_credit_limit,
		    status = EXCLUDED.status, updated_at = now()
		RETURNING `+subscriptionColumns,
		sub.ContractorID, sub.ExternalRef, sub.Tier, sub.WeeklyCreditLimit, sub.Status)
	out, err := scanSubscription(row)
	if err != nil {
		return Subscription{}, fmt.Errorf("payment: upsert subscription: %w", err)
	}
	return out, nil
}

// CancelSubscriptionTx marks the subscription cancelled by its gateway
// reference.
func (r *Repository) CancelSubscriptionTx(ctx context.Context, tx pgx.Tx, externalRef string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE subscriptions SET status = $2, updated_at = now() WHERE external_ref = $1
	`, externalRef, SubscriptionCancelled)
	if err != nil {
		return fmt.Errorf("payment: cancel subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// GetSubscription returns a contractor's subscription.
func (r *Repository) GetSubscription(ctx context.Context, contractorID string) (Subscription, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE contractor_id = $1
	`, contractorID)
	out, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Subscription{}, ErrSubscriptionNotFound
		}
		return Subscription{}, fmt.Errorf("payment: get subscription: %w", err)
	}
	return out, nil
}

// ActiveSubscriptions lists subscriptions eligible for the weekly credit
// allocation.
func (r *Repository) ActiveSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE status = $1 AND weekly_credit_limit > 0
		ORDER BY created_at
	`, SubscriptionActive)
	if err != nil {
		return nil, fmt.Errorf("payment: list active subscriptions: %w", err)
	}
	defer rows.Close()

	out := make([]Subscription, 0, 32)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("payment: scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payment: iterate subscriptions: %w", err)
	}
	return out, nil
}

func scanSubscription(row pgx.Row) (Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.ContractorID, &s.ExternalRef, &s.Tier, &s.WeeklyCreditLimit, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Subscription{}, err
	}
	return s, nil
}
