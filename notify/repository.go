package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// KindReminder marks confirmation-deadline reminders; the threshold column
// makes each threshold its own dedup key.
const KindReminder = "confirmation_reminder"

// Notification is an in-app message shown to a user.
type Notification struct {
	ID         string
	UserID     string
	JobID      *string
	Kind       string
	Threshold  *int
	Title      string
	Message    string
	ActionLink *string
	CreatedAt  time.Time
}

// Repository stores in-app notifications. It doubles as the default Notifier
// for the outbox relay.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Notify writes an in-app notification row.
func (r *Repository) Notify(ctx context.Context, userID, title, message, actionLink string) error {
	var link *string
	if actionLink != "" {
		link = &actionLink
	}
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (user_id, kind, title, message, action_link)
		VALUES ($1, 'event', $2, $3, $4)
	`, userID, title, message, link); err != nil {
		return fmt.Errorf("notify: insert notification: %w", err)
	}
	return nil
}

// HasRecentReminder reports whether a reminder for this job and threshold was
// already written inside the window. The scheduler uses this to send each
// threshold at most once even when passes overlap or repeat.
func (r *Repository) HasRecentReminder(ctx context.Context, jobID string, thresholdHours int, window time.Duration) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE job_id = $1 AND kind = $2 AND threshold_hours = $3 AND created_at > $4
		)
	`, jobID, KindReminder, thresholdHours, time.Now().UTC().Add(-window)).Scan(&exists); err != nil {
		return false, fmt.Errorf("notify: check recent reminder: %w", err)
	}
	return exists, nil
}

// CreateReminder writes the reminder notification for one threshold.
func (r *Repository) CreateReminder(ctx context.Context, jobID, userID string, thresholdHours int, title, message string) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (user_id, job_id, kind, threshold_hours, title, message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, userID, jobID, KindReminder, thresholdHours, title, message); err != nil {
		return fmt.Errorf("notify: insert reminder: %w", err)
	}
	return nil
}

// ListByUser returns a user's notifications, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, job_id, kind, threshold_hours, title, message, action_link, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notify: list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0, limit)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.JobID, &n.Kind, &n.Threshold, &n.Title, &n.Message, &n.ActionLink, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notify: scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notify: iterate notifications: %w", err)
	}
	return out, nil
}
