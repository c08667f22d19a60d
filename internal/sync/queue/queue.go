// Package queue provides the durable backlog of local mutations awaiting
// remote confirmation, with priority ordering, compaction and retry logic.
package queue

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/antsline/delilog-core/internal/errors"
	"github.com/antsline/delilog-core/internal/logging"
	"github.com/antsline/delilog-core/internal/models"
	"github.com/antsline/delilog-core/internal/uuid"
)

// Store is the durability surface the queue writes through. Every mutation
// is persisted before it is visible in memory, so the backlog survives
// restarts.
type Store interface {
	SaveQueueItem(item *models.SyncQueueItem) error
	DeleteQueueItem(id models.UUID) error
	ListQueueItems() ([]*models.SyncQueueItem, error)
}

// Config holds queue tunables.
type Config struct {
	MaxSize    int
	MaxRetries int
}

// DefaultConfig returns default queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:    1000,
		MaxRetries: 3,
	}
}

// SyncQueue manages pending sync operations with retry logic. All access
// goes through its methods; the compaction invariant (at most one pending
// item per entity/record/action) only holds if nothing mutates storage
// directly.
type SyncQueue struct {
	mu     sync.Mutex
	items  map[models.UUID]*models.SyncQueueItem
	store  Store
	config Config
	now    func() time.Time
}

// New creates a SyncQueue and loads the persisted backlog. Items that were
// in progress when the process died are reset to pending: the remote write
// may or may not have landed, and re-attempting is the at-least-once side
// of that bargain.
func New(store Store, config Config) (*SyncQueue, error) {
	if config.MaxSize <= 0 {
		config.MaxSize = DefaultConfig().MaxSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultConfig().MaxRetries
	}

	q := &SyncQueue{
		items:  make(map[models.UUID]*models.SyncQueueItem),
		store:  store,
		config: config,
		now:    time.Now,
	}

	persisted, err := store.ListQueueItems()
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted queue: %w", err)
	}

	for _, item := range persisted {
		if item.Status == models.QueueStatusInProgress {
			item.Status = models.QueueStatusPending
			if err := store.SaveQueueItem(item); err != nil {
				return nil, fmt.Errorf("failed to reset interrupted item: %w", err)
			}
		}
		q.items[item.ID] = item
	}

	if len(persisted) > 0 {
		logging.Info("Sync queue restored from storage",
			map[string]interface{}{"count": len(persisted)})
	}

	return q, nil
}

// SetClock replaces the wall clock for deterministic tests.
func (q *SyncQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// Enqueue adds a mutation for one local record. If a pending item for the
// same (entityType, localID, action) already exists, the new payload
// supersedes the old one in place instead of creating a duplicate entry;
// the item keeps its original position in FIFO order.
func (q *SyncQueue) Enqueue(entityType models.EntityType, localID models.UUID, action models.QueueAction, payload json.RawMessage, priority models.Priority) (*models.SyncQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	// Compaction before capacity: a superseded item takes no new slot.
	for _, item := range q.items {
		if item.Status == models.QueueStatusPending &&
			item.EntityType == entityType && item.LocalID == localID && item.Action == action {
			item.Payload = payload
			if priority.Rank() < item.Priority.Rank() {
				item.Priority = priority
			}
			item.UpdatedAt = now.Unix()
			if err := q.store.SaveQueueItem(item); err != nil {
				return nil, err
			}
			logging.Debug("Queue item superseded",
				map[string]interface{}{"id": item.ID.String(), "action": string(action)})
			return item, nil
		}
	}

	if len(q.items) >= q.config.MaxSize {
		return nil, apperrors.New(apperrors.ErrQueueFull,
			fmt.Sprintf("sync queue is full (max size: %d)", q.config.MaxSize))
	}

	item := &models.SyncQueueItem{
		ID:         models.UUID(uuid.New()),
		EntityType: entityType,
		LocalID:    localID,
		Action:     action,
		Payload:    payload,
		Priority:   priority,
		RetryCount: 0,
		MaxRetries: q.config.MaxRetries,
		Status:     models.QueueStatusPending,
		// Nanosecond resolution keeps FIFO stable within one second.
		EnqueuedAt: now.UnixNano(),
		UpdatedAt:  now.Unix(),
	}

	if err := q.store.SaveQueueItem(item); err != nil {
		return nil, err
	}
	q.items[item.ID] = item

	logging.Debug("Enqueued sync operation",
		map[string]interface{}{
			"id":       item.ID.String(),
			"entity":   string(entityType),
			"action":   string(action),
			"priority": string(priority),
		})

	return item, nil
}

// Drain returns the items due for processing, ordered by priority
// (high > medium > low) then enqueue time ascending, and marks them in
// progress. Items waiting out a retry backoff or already failed
// permanently are excluded.
func (q *SyncQueue) Drain() ([]*models.SyncQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	var ready []*models.SyncQueueItem
	for _, item := range q.items {
		if item.Status == models.QueueStatusPending && item.NextRetryAt <= now.Unix() {
			ready = append(ready, item)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority.Rank() != ready[j].Priority.Rank() {
			return ready[i].Priority.Rank() < ready[j].Priority.Rank()
		}
		return ready[i].EnqueuedAt < ready[j].EnqueuedAt
	})

	for _, item := range ready {
		item.Status = models.QueueStatusInProgress
		item.UpdatedAt = now.Unix()
		if err := q.store.SaveQueueItem(item); err != nil {
			return nil, err
		}
	}

	// Snapshot copies so the caller never sees later in-place mutations.
	out := make([]*models.SyncQueueItem, len(ready))
	for i, item := range ready {
		cp := *item
		out[i] = &cp
	}
	return out, nil
}

// Ack removes a successfully delivered item.
func (q *SyncQueue) Ack(id models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("queue item %s not found", id))
	}

	if err := q.store.DeleteQueueItem(id); err != nil {
		return err
	}
	delete(q.items, id)

	logging.Debug("Acknowledged sync operation",
		map[string]interface{}{"id": id.String(), "action": string(item.Action)})
	return nil
}

// Nack records a delivery failure. Retryable failures re-queue the item
// with exponential backoff until maxRetries, after which (and for permanent
// failures immediately) the item parks as failed and leaves the drain
// rotation; it stays visible for user awareness and RetryAll.
func (q *SyncQueue) Nack(id models.UUID, cause error, retryable bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("queue item %s not found", id))
	}

	now := q.now()
	item.LastError = cause.Error()
	item.UpdatedAt = now.Unix()

	if !retryable {
		item.Status = models.QueueStatusFailed
		logging.Warn("Sync operation failed permanently",
			map[string]interface{}{"id": id.String(), "error": cause.Error()})
		return q.store.SaveQueueItem(item)
	}

	item.RetryCount++
	if item.RetryCount >= item.MaxRetries {
		item.Status = models.QueueStatusFailed
		logging.Warn("Sync operation exhausted retries",
			map[string]interface{}{
				"id":          id.String(),
				"retry_count": item.RetryCount,
				"error":       cause.Error(),
			})
		return q.store.SaveQueueItem(item)
	}

	backoff := calculateBackoff(item.RetryCount)
	item.NextRetryAt = now.Unix() + backoff
	item.Status = models.QueueStatusPending

	logging.Debug("Sync operation re-queued",
		map[string]interface{}{
			"id":              id.String(),
			"retry_count":     item.RetryCount,
			"backoff_seconds": backoff,
		})

	return q.store.SaveQueueItem(item)
}

// calculateBackoff calculates exponential backoff delay in seconds.
// Formula: 2^retry_count * 30, capped at 1800 seconds (30 minutes).
func calculateBackoff(retryCount int) int64 {
	backoff := int64(1) << uint(retryCount)
	backoff = backoff * 30

	maxBackoff := int64(1800)
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	return backoff
}

// PendingCount returns the number of items still awaiting delivery,
// including those waiting out a backoff.
func (q *SyncQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, item := range q.items {
		if item.Status == models.QueueStatusPending || item.Status == models.QueueStatusInProgress {
			count++
		}
	}
	return count
}

// FailedCount returns the number of permanently failed items.
func (q *SyncQueue) FailedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, item := range q.items {
		if item.Status == models.QueueStatusFailed {
			count++
		}
	}
	return count
}

// ListFailed returns copies of permanently failed items for surfacing.
func (q *SyncQueue) ListFailed() []*models.SyncQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	var failed []*models.SyncQueueItem
	for _, item := range q.items {
		if item.Status == models.QueueStatusFailed {
			cp := *item
			failed = append(failed, &cp)
		}
	}
	sort.Slice(failed, func(i, j int) bool {
		return failed[i].EnqueuedAt < failed[j].EnqueuedAt
	})
	return failed
}

// RetryAll re-arms failed items after user intervention and returns how
// many were reset.
func (q *SyncQueue) RetryAll() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().Unix()
	count := 0

	for _, item := range q.items {
		if item.Status != models.QueueStatusFailed {
			continue
		}
		item.Status = models.QueueStatusPending
		item.RetryCount = 0
		item.NextRetryAt = now
		item.LastError = ""
		item.UpdatedAt = now
		if err := q.store.SaveQueueItem(item); err != nil {
			return count, err
		}
		count++
	}

	if count > 0 {
		logging.Info("Failed sync operations re-armed",
			map[string]interface{}{"count": count})
	}
	return count, nil
}

// Size returns the total number of tracked items.
func (q *SyncQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns per-status item counts.
func (q *SyncQueue) Stats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := map[string]int{
		"total":       0,
		"pending":     0,
		"in_progress": 0,
		"failed":      0,
	}

	for _, item := range q.items {
		stats["total"]++
		switch item.Status {
		case models.QueueStatusPending:
			stats["pending"]++
		case models.QueueStatusInProgress:
			stats["in_progress"]++
		case models.QueueStatusFailed:
			stats["failed"]++
		}
	}

	return stats
}
