package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the slice of pgxpool.Pool the outbox needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Outbox implements Notifier by recording events as outbox rows for an
// external dispatcher. Writes run under their own bounded timeout so a slow
// database never blocks the transition that triggered the notification.
type Outbox struct {
	db      Execer
	timeout time.Duration
}

func NewOutbox(db Execer, timeout time.Duration) *Outbox {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Outbox{db: db, timeout: timeout}
}

func (o *Outbox) Notify(ctx context.Context, eventType, recipientID string, payload map[string]any) error {
	if eventType == "" || recipientID == "" {
		return fmt.Errorf("notify: event type and recipient required")
	}
	if payload == nil {
		payload = map[string]any{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	const insertSQL = `
		INSERT INTO outbox (event_type, recipient_id, payload)
		VALUES ($1, $2, $3::jsonb)
	`
	if _, err := o.db.Exec(ctx, insertSQL, eventType, recipientID, body); err != nil {
		return fmt.Errorf("notify: enqueue outbox: %w", err)
	}
	return nil
}
