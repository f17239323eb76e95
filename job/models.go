package job

import "time"

// SystemActor is recorded as the confirming actor when the scheduler
// auto-confirms a final price on timeout.
const SystemActor = "system"

// Job mirrors the jobs table columns touched by the controller.
type Job struct {
	ID                  string
	CustomerID          string
	ContractorID        *string
	Title               string
	Description         string
	Status              Status
	LeadPrice           int64
	Budget              *int64
	FinalAmount         *int64
	ProposedAmount      *int64
	FinalPriceTimeoutAt *time.Time
	MaxContractors      int
	Flagged             bool
	FlagReason          *string
	ConfirmedBy         *string
	ConfirmedAt         *time.Time
	AdminOverride       bool
	CancelReason        *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Access grants a contractor visibility into a job. Created by a credit
// debit or a verified direct payment, unique per (job, contractor), and
// immutable apart from refund bookkeeping.
type Access struct {
	ID           string
	JobID        string
	ContractorID string
	Source       AccessSource
	PaymentRef   *string
	Refunded     bool
	CreatedAt    time.Time
}

type AccessSource string

const (
	AccessSourceCredits       AccessSource = "credits"
	AccessSourceDirectPayment AccessSource = "direct_payment"
)

// PendingConfirmation is the scheduler's view of a job awaiting final price
// confirmation.
type PendingConfirmation struct {
	JobID      string
	CustomerID string
	TimeoutAt  time.Time
}
