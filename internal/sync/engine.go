// Package sync provides the orchestrator that drains the local queue
// against the remote store, resolving conflicts along the way.
package sync

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/antsline/delilog-core/internal/db"
	apperrors "github.com/antsline/delilog-core/internal/errors"
	"github.com/antsline/delilog-core/internal/logging"
	"github.com/antsline/delilog-core/internal/models"
	"github.com/antsline/delilog-core/internal/sync/conflict"
	"github.com/antsline/delilog-core/internal/sync/network"
	"github.com/antsline/delilog-core/internal/sync/queue"
	"github.com/antsline/delilog-core/internal/telemetry"
)

// SyncStatus represents the engine's current state.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncEventType classifies engine notifications.
type SyncEventType string

const (
	SyncEventStarted   SyncEventType = "sync_started"
	SyncEventCompleted SyncEventType = "sync_completed"
	SyncEventFailed    SyncEventType = "sync_failed"
	SyncEventSkipped   SyncEventType = "sync_skipped"
	SyncEventItem      SyncEventType = "item_synced"
	SyncEventConflict  SyncEventType = "conflict_resolved"
)

// SyncEvent is a notification emitted during a sync cycle. The desktop
// sidecar forwards these to connected UI clients over websocket.
type SyncEvent struct {
	Type      SyncEventType          `json:"type"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

// SyncEventHandler receives engine notifications.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// CycleResult summarizes one sync cycle.
type CycleResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Pushed     int
	Conflicts  int
	Failed     int
	Remaining  int
	Skipped    bool
	SkipReason string
	Error      string
}

// StatusReport is a point-in-time snapshot of sync health for UI display.
type StatusReport struct {
	Status       SyncStatus `json:"status"`
	Online       bool       `json:"online"`
	LastSync     *time.Time `json:"last_sync,omitempty"`
	PendingCount int        `json:"pending_count"`
	FailedCount  int        `json:"failed_count"`
	LastError    string     `json:"last_error,omitempty"`
}

// Engine drains the sync queue against the remote store. One cycle runs
// at a time; overlapping triggers coalesce into the running cycle.
type Engine struct {
	repo     *db.Repository
	queue    *queue.SyncQueue
	remote   RemoteStore
	resolver *conflict.Resolver
	monitor  *network.Monitor

	mu        sync.Mutex
	isSyncing bool
	status    SyncStatus
	lastSync  *time.Time
	lastErr   error

	handler     SyncEventHandler
	callTimeout time.Duration
	now         func() time.Time
}

// NewEngine creates an Engine. The monitor may be nil, in which case
// the offline fast path is skipped and every cycle reaches the remote.
func NewEngine(repo *db.Repository, q *queue.SyncQueue, remote RemoteStore, resolver *conflict.Resolver, monitor *network.Monitor) *Engine {
	return &Engine{
		repo:        repo,
		queue:       q,
		remote:      remote,
		resolver:    resolver,
		monitor:     monitor,
		status:      SyncStatusIdle,
		callTimeout: 8 * time.Second,
		now:         time.Now,
	}
}

// SetEventHandler sets the handler for sync notifications.
func (e *Engine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// SetCallTimeout overrides the per-remote-call timeout.
func (e *Engine) SetCallTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callTimeout = d
}

// SetClock replaces the time source for tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Status returns a snapshot of sync health.
func (e *Engine) Status() StatusReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := StatusReport{
		Status:       e.status,
		Online:       e.monitor == nil || e.monitor.IsOnline(),
		LastSync:     e.lastSync,
		PendingCount: e.queue.PendingCount(),
		FailedCount:  e.queue.FailedCount(),
	}
	if e.lastErr != nil {
		report.LastError = e.lastErr.Error()
	}
	return report
}

// skipReasonQueueEmpty marks a cycle that found nothing to push.
const skipReasonQueueEmpty = "queue empty"

// Sync runs one full cycle: drain ready queue items oldest-first within
// priority bands, deliver each to the remote store, resolve conflicts,
// and acknowledge or re-queue per outcome. A second call while a cycle
// is running returns a skipped result without error.
func (e *Engine) Sync(ctx context.Context) (*CycleResult, error) {
	e.mu.Lock()
	if e.isSyncing {
		e.mu.Unlock()
		return &CycleResult{Skipped: true, SkipReason: "cycle already running"}, nil
	}
	e.isSyncing = true
	e.status = SyncStatusSyncing
	e.lastErr = nil
	now := e.now
	timeout := e.callTimeout
	e.mu.Unlock()

	result := &CycleResult{StartTime: now()}

	defer func() {
		result.EndTime = now()
		result.Duration = result.EndTime.Sub(result.StartTime)
		result.Remaining = e.queue.PendingCount()

		telemetry.QueueBacklog.Set(float64(result.Remaining))
		telemetry.QueueFailed.Set(float64(e.queue.FailedCount()))

		e.mu.Lock()
		e.isSyncing = false
		switch {
		case result.Skipped:
			e.status = SyncStatusIdle
		case e.lastErr != nil:
			e.status = SyncStatusFailed
			result.Error = e.lastErr.Error()
		default:
			e.status = SyncStatusIdle
		}
		// An empty queue means the store is fully synced, and a partial
		// cycle still moved data; both advance the last-sync marker.
		if result.SkipReason == skipReasonQueueEmpty || result.Pushed > 0 {
			end := result.EndTime
			e.lastSync = &end
		}
		e.mu.Unlock()
	}()

	if e.monitor != nil && !e.monitor.IsOnline() {
		result.Skipped = true
		result.SkipReason = "offline"
		telemetry.SyncCycles.WithLabelValues("skipped").Inc()
		logging.Debug("Sync skipped while offline", nil)
		return result, nil
	}

	items, err := e.queue.Drain()
	if err != nil {
		e.setLastErr(err)
		telemetry.SyncCycles.WithLabelValues("failed").Inc()
		return result, err
	}
	if len(items) == 0 {
		result.Skipped = true
		result.SkipReason = skipReasonQueueEmpty
		telemetry.SyncCycles.WithLabelValues("skipped").Inc()
		return result, nil
	}

	e.emitEvent(SyncEvent{
		Type:      SyncEventStarted,
		Message:   fmt.Sprintf("Syncing %d operations", len(items)),
		Timestamp: now(),
	})

	for _, item := range items {
		select {
		case <-ctx.Done():
			result.Failed++
			e.requeue(item, ctx.Err())
			e.setLastErr(ctx.Err())
			continue
		default:
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		conflicted, err := e.deliver(callCtx, item)
		cancel()

		if err != nil {
			result.Failed++
			e.requeue(item, err)
			e.setLastErr(err)
			continue
		}

		if err := e.queue.Ack(item.ID); err != nil {
			logging.Warn("Failed to acknowledge delivered operation",
				map[string]interface{}{"id": item.ID.String(), "error": err.Error()})
		}

		result.Pushed++
		if conflicted {
			result.Conflicts++
		}
		telemetry.OperationsPushed.WithLabelValues(
			string(item.EntityType), string(item.Action)).Inc()

		e.emitEvent(SyncEvent{
			Type:      SyncEventItem,
			Timestamp: now(),
			Detail: map[string]interface{}{
				"local_id":    item.LocalID.String(),
				"entity_type": string(item.EntityType),
				"action":      string(item.Action),
			},
		})
	}

	e.mu.Lock()
	lastErr := e.lastErr
	e.mu.Unlock()

	telemetry.CycleDuration.Observe(now().Sub(result.StartTime).Seconds())

	if lastErr != nil {
		telemetry.SyncCycles.WithLabelValues("failed").Inc()
		e.emitEvent(SyncEvent{
			Type:      SyncEventFailed,
			Message:   lastErr.Error(),
			Timestamp: now(),
			Detail:    map[string]interface{}{"pushed": result.Pushed, "failed": result.Failed},
		})
		logging.Warn("Sync cycle finished with failures",
			map[string]interface{}{"pushed": result.Pushed, "failed": result.Failed})
		return result, nil
	}

	telemetry.SyncCycles.WithLabelValues("completed").Inc()
	e.emitEvent(SyncEvent{
		Type:      SyncEventCompleted,
		Timestamp: now(),
		Detail:    map[string]interface{}{"pushed": result.Pushed, "conflicts": result.Conflicts},
	})
	logging.Info("Sync cycle completed",
		map[string]interface{}{"pushed": result.Pushed, "conflicts": result.Conflicts})
	return result, nil
}

// deliver pushes a single queue operation to the remote store. It
// returns whether a conflict was resolved along the way.
func (e *Engine) deliver(ctx context.Context, item *models.SyncQueueItem) (bool, error) {
	switch item.Action {
	case models.ActionCreate:
		return false, e.deliverCreate(ctx, item)
	case models.ActionUpdate:
		return e.deliverUpdate(ctx, item)
	case models.ActionDelete:
		return false, e.deliverDelete(ctx, item)
	default:
		return false, apperrors.New(apperrors.ErrValidation,
			fmt.Sprintf("unknown queue action %q", item.Action))
	}
}

func (e *Engine) deliverCreate(ctx context.Context, item *models.SyncQueueItem) error {
	record, err := e.repo.GetRecord(item.LocalID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		// The record was deleted locally before it ever synced.
		logging.Debug("Dropping create for locally deleted record",
			map[string]interface{}{"local_id": item.LocalID.String()})
		return nil
	}
	if err != nil {
		return err
	}

	// A server ID means an earlier attempt succeeded but the ack was
	// lost. Re-issuing the insert would duplicate the record.
	if record.ServerID != "" {
		record.MarkSynced(record.ServerID)
		return e.repo.TouchRecord(record)
	}

	remote, err := e.remote.Insert(ctx, record.EntityType, record.Payload)
	if err != nil {
		return err
	}

	record.MarkSynced(remote.ServerID)
	return e.repo.TouchRecord(record)
}

func (e *Engine) deliverUpdate(ctx context.Context, item *models.SyncQueueItem) (bool, error) {
	record, err := e.repo.GetRecord(item.LocalID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		logging.Debug("Dropping update for locally deleted record",
			map[string]interface{}{"local_id": item.LocalID.String()})
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if record.ServerID == "" {
		// Never reached the remote; the update degenerates to a create.
		remote, err := e.remote.Insert(ctx, record.EntityType, record.Payload)
		if err != nil {
			return false, err
		}
		record.MarkSynced(remote.ServerID)
		return false, e.repo.TouchRecord(record)
	}

	remote, err := e.remote.GetByID(ctx, record.ServerID, record.EntityType)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		// The server copy vanished; re-create it from the local version.
		recreated, err := e.remote.Insert(ctx, record.EntityType, record.Payload)
		if err != nil {
			return false, err
		}
		record.MarkSynced(recreated.ServerID)
		return false, e.repo.TouchRecord(record)
	}
	if err != nil {
		return false, err
	}

	if c, detected := e.resolver.DetectConflict(record, remote); detected {
		return true, e.resolveAndApply(ctx, record, c)
	}

	updated, err := e.remote.Update(ctx, record.ServerID, record.EntityType, record.Payload)
	if err != nil {
		return false, err
	}
	record.UpdatedAtLocal = updated.UpdatedAt
	record.MarkSynced(record.ServerID)
	return false, e.repo.TouchRecord(record)
}

// resolveAndApply settles a detected conflict. The losing side's edit
// is discarded; a conflict log entry keeps the user informed either way.
func (e *Engine) resolveAndApply(ctx context.Context, record *models.LocalRecord, c *conflict.Conflict) error {
	res, err := e.resolver.Resolve(c)
	if err != nil {
		return err
	}

	if res.Winner == conflict.WinnerLocal {
		updated, err := e.remote.Update(ctx, record.ServerID, record.EntityType, record.Payload)
		if err != nil {
			return err
		}
		record.UpdatedAtLocal = updated.UpdatedAt
	} else {
		record.Payload = res.Payload
		record.UpdatedAtLocal = c.RemoteRecord.UpdatedAt
	}
	record.MarkSynced(record.ServerID)

	if err := e.repo.TouchRecord(record); err != nil {
		return err
	}
	if err := e.repo.CreateConflictLog(res.ConflictLog); err != nil {
		logging.Warn("Failed to persist conflict log",
			map[string]interface{}{"local_id": record.LocalID.String(), "error": err.Error()})
	}

	telemetry.ConflictsResolved.WithLabelValues(string(res.Winner)).Inc()
	e.emitEvent(SyncEvent{
		Type:      SyncEventConflict,
		Timestamp: e.now(),
		Detail: map[string]interface{}{
			"local_id": record.LocalID.String(),
			"winner":   string(res.Winner),
		},
	})
	return nil
}

// deletePayload carries the server ID of a record whose local copy is
// already gone by the time the delete reaches the remote.
type deletePayload struct {
	ServerID string `json:"server_id"`
}

func (e *Engine) deliverDelete(ctx context.Context, item *models.SyncQueueItem) error {
	var payload deletePayload
	if len(item.Payload) > 0 {
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return apperrors.Wrap(apperrors.ErrValidation, "malformed delete payload", err)
		}
	}

	// A record that never synced has nothing to delete remotely.
	if payload.ServerID == "" {
		return nil
	}

	if err := e.remote.Delete(ctx, payload.ServerID, item.EntityType); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// requeue classifies a delivery failure and hands the item back to the
// queue: retryable failures back off, permanent ones park as failed.
func (e *Engine) requeue(item *models.SyncQueueItem, cause error) {
	// Context timeouts surface as plain errors, not AppError codes.
	retryable := apperrors.IsRetryable(cause) || isTransient(cause)

	class := "permanent"
	if retryable {
		class = "retryable"
	}
	telemetry.OperationsFailed.WithLabelValues(class).Inc()

	if err := e.queue.Nack(item.ID, cause, retryable); err != nil {
		logging.Warn("Failed to re-queue operation",
			map[string]interface{}{"id": item.ID.String(), "error": err.Error()})
	}
}

// isTransient recognizes non-AppError failures that still warrant a
// retry, such as cancelled contexts and deadline expiry.
func isTransient(err error) bool {
	return stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled)
}

// emitEvent dispatches an event to the handler if one is registered.
func (e *Engine) emitEvent(event SyncEvent) {
	e.mu.Lock()
	handler := e.handler
	e.mu.Unlock()

	if handler != nil {
		handler.OnSyncEvent(event)
	}
}

func (e *Engine) setLastErr(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}
