package contractor

import "time"

// Status is the account standing of a contractor.
type Status string

const (
	StatusPendingKYC Status = "pending_kyc"
	StatusActive     Status = "active"
	StatusSuspended  Status = "suspended"
)

// Profile captures the marketplace-facing contractor account state. The KYC
// deadline is only set on the approve-first path, where the contractor may
// start working before verification completes.
type Profile struct {
	ContractorID string
	Status       Status
	KYCDeadline  *time.Time
	ApprovedBy   *string
	Rating       float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
