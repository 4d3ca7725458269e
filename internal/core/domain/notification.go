package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Notification
// =============================================================================

// Notification is an outbox entry for a webhook delivery. Run completion
// writes a row; the notifier worker posts unsent rows and marks them sent.
type Notification struct {
	ID        string     `json:"id"`
	RunID     string     `json:"run_id"`
	Event     string     `json:"event"`   // e.g. "run.succeeded", "run.failed"
	Payload   string     `json:"payload"` // JSON webhook body
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
}

// NewNotification creates an unsent notification for a run event.
func NewNotification(runID, event, payload string) *Notification {
	return &Notification{
		ID:        uuid.New().String(),
		RunID:     runID,
		Event:     event,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}
