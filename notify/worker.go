package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

const maxAttempts = 5

// Notifier delivers one notification to one user. The repository-backed
// implementation writes an in-app notification row; deployments can swap in
// email or push delivery behind the same port.
type Notifier interface {
	Notify(ctx context.Context, userID, title, message, actionLink string) error
}

// Worker relays pending outbox messages to the notifier. Rows are claimed
// with SKIP LOCKED so multiple relay instances never double-deliver, and a
// message that keeps failing is parked as failed after maxAttempts.
type Worker struct {
	pool     *pgxpool.Pool
	notifier Notifier
	log      *logrus.Logger
	interval time.Duration
	batch    int
}

func NewWorker(pool *pgxpool.Pool, notifier Notifier, log *logrus.Logger, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Worker{pool: pool, notifier: notifier, log: log, interval: interval, batch: 50}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.RunPass(ctx); err != nil {
				w.log.WithError(err).Warn("outbox relay pass failed")
			}
		}
	}
}

// RunPass claims and delivers one batch of pending messages.
func (w *Worker) RunPass(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, topic, payload, attempts
		FROM outbox
		WHERE status = 'pending'
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, w.batch)
	if err != nil {
		return err
	}

	msgs := make([]Message, 0, w.batch)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts); err != nil {
			rows.Close()
			return err
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range msgs {
		if err := w.deliver(ctx, m); err != nil {
			w.log.WithError(err).WithFields(logrus.Fields{
				"outbox_id": m.ID,
				"topic":     m.Topic,
				"attempts":  m.Attempts + 1,
			}).Warn("outbox delivery failed")

			status := "pending"
			if m.Attempts+1 >= maxAttempts {
				status = "failed"
			}
			if _, err := tx.Exec(ctx, `
				UPDATE outbox SET attempts = attempts + 1, status = $2 WHERE id = $1
			`, m.ID, status); err != nil {
				return err
			}
			continue
		}

		if _, err := tx.Exec(ctx, `
			UPDATE outbox SET status = 'sent', attempts = attempts + 1, sent_at = now() WHERE id = $1
		`, m.ID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// deliver fans the message out to its recipients. Messages without a
// recipients list carry no user-facing notification and are just marked sent.
func (w *Worker) deliver(ctx context.Context, m Message) error {
	var body struct {
		Recipients []struct {
			UserID     string `json:"user_id"`
			Title      string `json:"title"`
			Message    string `json:"message"`
			ActionLink string `json:"action_link"`
		} `json:"recipients"`
	}
	if err := json.Unmarshal(m.Payload, &body); err != nil {
		return err
	}

	for _, rec := range body.Recipients {
		if rec.UserID == "" {
			continue
		}
		if err := w.notifier.Notify(ctx, rec.UserID, rec.Title, rec.Message, rec.ActionLink); err != nil {
			return err
		}
	}
	return nil
}
