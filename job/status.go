package job

// Status is the job lifecycle state.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPosted     Status = "posted"
	StatusInProgress Status = "in_progress"
	StatusAwaiting   Status = "awaiting_final_price_confirmation"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusDisputed   Status = "disputed"
)

// transitions is the single source of truth for transition legality. Every
// state change checks it in one place instead of re-deriving the rules per
// call site. DISPUTED entries exist only for the dispute engine; the
// controller itself never writes that state.
var transitions = map[Status][]Status{
	StatusDraft:      {StatusPosted, StatusCancelled},
	StatusPosted:     {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusAwaiting, StatusDisputed, StatusCancelled},
	StatusAwaiting:   {StatusCompleted, StatusDisputed, StatusCancelled},
	StatusDisputed:   {StatusInProgress, StatusAwaiting, StatusCompleted},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}
