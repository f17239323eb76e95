package ledger

import "time"

// Kind classifies a ledger entry.
type Kind string

const (
	KindAddition         Kind = "addition"
	KindDeduction        Kind = "deduction"
	KindWeeklyAllocation Kind = "weekly_allocation"
	KindDisputeRefund    Kind = "dispute_refund"
)

// Transaction is an immutable ledger entry. The contractor's balance is the
// sum of all entries; the credit_balances row is a cached projection kept in
// step inside the same database transaction.
type Transaction struct {
	ID           string
	ContractorID string
	// Amount is signed: positive for credits, negative for deductions.
	Amount    int64
	Kind      Kind
	JobID     *string
	AdminID   *string
	CreatedAt time.Time
}
