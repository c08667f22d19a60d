// Package models provides data model definitions for Delilog Core.
package models

import "encoding/json"

// QueueAction is the remote mutation a queue item represents.
type QueueAction string

const (
	ActionCreate QueueAction = "create"
	ActionUpdate QueueAction = "update"
	ActionDelete QueueAction = "delete"
)

// Priority orders queue items within a drain. Higher priorities are always
// attempted before lower ones.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the sort rank of a priority; lower sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// QueueItemStatus is the lifecycle status of a queued mutation.
type QueueItemStatus string

const (
	QueueStatusPending    QueueItemStatus = "pending"
	QueueStatusInProgress QueueItemStatus = "in_progress"
	QueueStatusFailed     QueueItemStatus = "failed"
)

// SyncQueueItem represents one pending remote mutation. The payload is a
// shallow copy of the LocalRecord at enqueue time.
type SyncQueueItem struct {
	ID          UUID            `db:"id" json:"id"`
	EntityType  EntityType      `db:"entity_type" json:"entity_type"`
	LocalID     UUID            `db:"local_id" json:"local_id"`
	Action      QueueAction     `db:"action" json:"action"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Priority    Priority        `db:"priority" json:"priority"`
	RetryCount  int             `db:"retry_count" json:"retry_count"`
	MaxRetries  int             `db:"max_retries" json:"max_retries"`
	NextRetryAt int64           `db:"next_retry_at" json:"next_retry_at"`
	Status      QueueItemStatus `db:"status" json:"status"`
	LastError   string          `db:"last_error" json:"last_error,omitempty"`
	EnqueuedAt  int64           `db:"enqueued_at" json:"enqueued_at"`
	UpdatedAt   int64           `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for SyncQueueItem.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}
