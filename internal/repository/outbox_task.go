package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "CREATED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusDone       TaskStatus = "DONE"
)

type OutboxTask struct {
	ID          uuid.UUID       `db:"id"`
	Status      TaskStatus      `db:"status"`
	Payload     json.RawMessage `db:"payload"`
	Topic       string          `db:"topic"`
	Attempts    int             `db:"attempts"`
	LastError   *string         `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	CompletedAt *time.Time      `db:"completed_at"`
}

// StatusChangePayload is the audit event written to the outbox whenever an
// order's current status moves, either from a sync run or a manual entry.
type StatusChangePayload struct {
	Timestamp       time.Time `json:"timestamp"`
	Marketplace     string    `json:"marketplace"`
	ExternalOrderID string    `json:"external_order_id"`
	OrderID         int64     `json:"order_id"`
	OldStatus       string    `json:"old_status,omitempty"`
	NewStatus       string    `json:"new_status"`
	EventAt         time.Time `json:"event_at"`
	Source          string    `json:"source"`
}
