package payment

import "time"

// Subscription mirrors the subscriptions table. The weekly credit limit is
// what the allocation pass tops the contractor's balance up to.
type Subscription struct {
	ID                string
	ContractorID      string
	ExternalRef       string
	Tier              string
	WeeklyCreditLimit int64
	Status            string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const (
	SubscriptionActive    = "active"
	SubscriptionPastDue   = "past_due"
	SubscriptionCancelled = "cancelled"
)

// Charge is the gateway's view of a payment, fetched by reference.
type Charge struct {
	Ref      string
	Amount   int64
	Currency string
	Paid     bool
}

// Webhook event types.
const (
	EventPaymentSucceeded    = "payment_succeeded"
	EventPaymentFailed       = "payment_failed"
	EventSubscriptionCreated = "subscription_created"
	EventSubscriptionUpdated = "subscription_updated"
	EventSubscriptionDeleted = "subscription_deleted"
)

// Payment purposes carried in webhook metadata.
const (
	PurposeCreditTopup = "credit_topup"
	PurposeCommission  = "commission"
)

// WebhookEvent is the normalized form of a gateway callback. The ID is the
// gateway's event id and doubles as the idempotency key.
type WebhookEvent struct {
	ID                string
	Type              string
	Purpose           string
	Ref               string
	Amount            int64
	ContractorID      string
	CommissionID      string
	Tier              string
	WeeklyCreditLimit int64
}
