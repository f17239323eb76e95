package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
	StatusClosed      Status = "closed"
)

// IsOpen reports whether the dispute still pins its job to the disputed
// status.
func (s Status) IsOpen() bool {
	return s == StatusOpen || s == StatusUnderReview
}

// Type classifies what is being contested.
type Type string

const (
	TypeQuality Type = "quality"
	TypePayment Type = "payment"
	TypeNoShow  Type = "no_show"
	TypeOther   Type = "other"
)

// Resolution is the administrator's verdict.
type Resolution string

const (
	ResolutionFavorCustomer   Resolution = "favor_customer"
	ResolutionFavorContractor Resolution = "favor_contractor"
	ResolutionPartialRefund   Resolution = "partial_refund"
	ResolutionNoAction        Resolution = "no_action"
)

// Role identifies which party raised the dispute.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleContractor Role = "contractor"
)

// Priority orders the admin review queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Record mirrors the disputes table.
type Record struct {
	ID               string
	JobID            string
	RaisedBy         string
	RaiserRole       Role
	Type             Type
	Status           Status
	Priority         Priority
	Description      string
	Evidence         []string
	Resolution       *Resolution
	ResolutionNotes  *string
	ResolvedBy       *string
	RefundCredits    bool
	CreditAmount     *int64
	AdjustCommission bool
	CommissionAmount *int64
	CompleteJob      bool
	ResolvedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Response is an append-only message on a dispute. Internal responses are
// visible to administrators only and never promote the dispute.
type Response struct {
	ID         string
	DisputeID  string
	AuthorID   string
	Message    string
	IsInternal bool
	CreatedAt  time.Time
}
