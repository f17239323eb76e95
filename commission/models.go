package commission

import "time"

// Status tracks settlement of a commission obligation.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
)

// Payment is the commission obligation created when a job completes with a
// non-zero final amount. At most one exists per job.
type Payment struct {
	ID               string
	JobID            string
	ContractorID     string
	CommissionAmount int64
	TotalAmount      int64
	Status           Status
	ExternalRef      *string
	DueAt            time.Time
	PaidAt           *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
