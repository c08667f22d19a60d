// Package db provides CRUD repository operations for Delilog data models.
package db

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/antsline/delilog-core/internal/errors"
	"github.com/antsline/delilog-core/internal/models"
	"github.com/antsline/delilog-core/internal/uuid"
)

// Repository provides durable storage for local records, the sync queue and
// the conflict log. All operations are atomic with respect to a single key;
// no cross-key transactions are needed by the callers.
type Repository struct {
	db  *sql.DB
	now func() time.Time

	// Prepared statement cache for frequently used queries.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		db:  db,
		now: time.Now,
	}
}

// SetClock replaces the wall clock. Tests inject a controllable clock so
// updated_at_local stamping is deterministic.
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

// prepareStmt gets or creates a prepared statement from the cache.
func (r *Repository) prepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// LocalRecord Operations
// =====================================================

// SaveRecord inserts or replaces a local record, stamping updated_at_local
// with the current clock. A write that fails is never silently dropped; the
// storage error propagates to the caller.
func (r *Repository) SaveRecord(rec *models.LocalRecord) error {
	now := r.now().Unix()
	if rec.CreatedAtLocal == 0 {
		rec.CreatedAtLocal = now
	}
	rec.UpdatedAtLocal = now

	query := `
	INSERT INTO local_records (local_id, entity_type, server_id, payload, state, sync_error, created_at_local, updated_at_local)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		server_id = excluded.server_id,
		payload = excluded.payload,
		state = excluded.state,
		sync_error = excluded.sync_error,
		updated_at_local = excluded.updated_at_local
	`
	_, err := r.db.Exec(query, rec.LocalID, rec.EntityType, rec.ServerID, rec.Payload,
		rec.State, rec.SyncError, rec.CreatedAtLocal, rec.UpdatedAtLocal)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to save record", err)
	}
	return nil
}

// TouchRecord overwrites sync bookkeeping without restamping
// updated_at_local. The orchestrator uses it after a remote write so that
// marking a record synced does not make it look newer than the remote copy.
func (r *Repository) TouchRecord(rec *models.LocalRecord) error {
	query := `
	UPDATE local_records
	SET server_id = ?, state = ?, sync_error = ?, payload = ?, updated_at_local = ?
	WHERE local_id = ?
	`
	_, err := r.db.Exec(query, rec.ServerID, rec.State, rec.SyncError,
		rec.Payload, rec.UpdatedAtLocal, rec.LocalID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update record bookkeeping", err)
	}
	return nil
}

// GetRecord retrieves a local record by its client-generated ID.
func (r *Repository) GetRecord(localID models.UUID) (*models.LocalRecord, error) {
	query := `
	SELECT local_id, entity_type, server_id, payload, state, sync_error, created_at_local, updated_at_local
	FROM local_records WHERE local_id = ?
	`
	stmt, err := r.prepareStmt(query)
	if err != nil {
		return nil, err
	}

	var rec models.LocalRecord
	err = stmt.QueryRow(localID).Scan(
		&rec.LocalID, &rec.EntityType, &rec.ServerID, &rec.Payload,
		&rec.State, &rec.SyncError, &rec.CreatedAtLocal, &rec.UpdatedAtLocal,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.New(apperrors.ErrNotFound, fmt.Sprintf("record %s not found", localID))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to get record", err)
	}
	return &rec, nil
}

// ListRecords returns records of one entity type, oldest-created first,
// optionally filtered by a predicate over the decoded envelope. Payload
// fields are opaque JSON to the store, so the predicate runs in Go.
func (r *Repository) ListRecords(entityType models.EntityType, keep func(*models.LocalRecord) bool) ([]*models.LocalRecord, error) {
	query := `
	SELECT local_id, entity_type, server_id, payload, state, sync_error, created_at_local, updated_at_local
	FROM local_records WHERE entity_type = ?
	ORDER BY created_at_local ASC, local_id ASC
	`
	rows, err := r.db.Query(query, entityType)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list records", err)
	}
	defer rows.Close()

	var records []*models.LocalRecord
	for rows.Next() {
		var rec models.LocalRecord
		if err := rows.Scan(
			&rec.LocalID, &rec.EntityType, &rec.ServerID, &rec.Payload,
			&rec.State, &rec.SyncError, &rec.CreatedAtLocal, &rec.UpdatedAtLocal,
		); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan record", err)
		}
		if keep == nil || keep(&rec) {
			records = append(records, &rec)
		}
	}
	return records, rows.Err()
}

// DeleteRecord purges a local record entirely.
func (r *Repository) DeleteRecord(localID models.UUID) error {
	_, err := r.db.Exec("DELETE FROM local_records WHERE local_id = ?", localID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete record", err)
	}
	return nil
}

// CountRecordsByState returns the number of records in a given sync state.
func (r *Repository) CountRecordsByState(state models.SyncState) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM local_records WHERE state = ?", state).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count records", err)
	}
	return count, nil
}

// =====================================================
// SyncQueueItem Operations
// =====================================================

// SaveQueueItem inserts or replaces a queue item. The queue package calls
// this write-through on every mutation so the backlog survives restarts.
func (r *Repository) SaveQueueItem(item *models.SyncQueueItem) error {
	query := `
	INSERT INTO sync_queue (id, entity_type, local_id, action, payload, priority,
		retry_count, max_retries, next_retry_at, status, last_error, enqueued_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		payload = excluded.payload,
		priority = excluded.priority,
		retry_count = excluded.retry_count,
		next_retry_at = excluded.next_retry_at,
		status = excluded.status,
		last_error = excluded.last_error,
		updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query, item.ID, item.EntityType, item.LocalID, item.Action,
		[]byte(item.Payload), item.Priority, item.RetryCount, item.MaxRetries,
		item.NextRetryAt, item.Status, item.LastError, item.EnqueuedAt, item.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to save queue item", err)
	}
	return nil
}

// DeleteQueueItem removes an acknowledged queue item.
func (r *Repository) DeleteQueueItem(id models.UUID) error {
	_, err := r.db.Exec("DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete queue item", err)
	}
	return nil
}

// ListQueueItems returns the full persisted backlog, enqueue order.
func (r *Repository) ListQueueItems() ([]*models.SyncQueueItem, error) {
	query := `
	SELECT id, entity_type, local_id, action, payload, priority,
		retry_count, max_retries, next_retry_at, status, last_error, enqueued_at, updated_at
	FROM sync_queue ORDER BY enqueued_at ASC, id ASC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list queue items", err)
	}
	defer rows.Close()

	var items []*models.SyncQueueItem
	for rows.Next() {
		var item models.SyncQueueItem
		var payload []byte
		if err := rows.Scan(
			&item.ID, &item.EntityType, &item.LocalID, &item.Action, &payload, &item.Priority,
			&item.RetryCount, &item.MaxRetries, &item.NextRetryAt, &item.Status,
			&item.LastError, &item.EnqueuedAt, &item.UpdatedAt,
		); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue item", err)
		}
		item.Payload = payload
		items = append(items, &item)
	}
	return items, rows.Err()
}

// =====================================================
// ConflictLog Operations
// =====================================================

// CreateConflictLog records one resolved conflict for user awareness.
func (r *Repository) CreateConflictLog(cl *models.ConflictLog) error {
	if cl.ID == "" {
		cl.ID = models.UUID(uuid.New())
	}
	if cl.DetectedAt == 0 {
		cl.DetectedAt = r.now().Unix()
	}

	query := `
	INSERT INTO conflict_log (id, entity_type, local_id, local_timestamp, remote_timestamp, winner, detected_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, cl.ID, cl.EntityType, cl.LocalID,
		cl.LocalTimestamp, cl.RemoteTimestamp, cl.Winner, cl.DetectedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to create conflict log", err)
	}
	return nil
}

// ListConflictLogs returns the most recent resolved conflicts.
func (r *Repository) ListConflictLogs(limit int) ([]*models.ConflictLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
	SELECT id, entity_type, local_id, local_timestamp, remote_timestamp, winner, detected_at
	FROM conflict_log ORDER BY detected_at DESC LIMIT ?
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list conflict logs", err)
	}
	defer rows.Close()

	var logs []*models.ConflictLog
	for rows.Next() {
		var cl models.ConflictLog
		if err := rows.Scan(&cl.ID, &cl.EntityType, &cl.LocalID,
			&cl.LocalTimestamp, &cl.RemoteTimestamp, &cl.Winner, &cl.DetectedAt); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan conflict log", err)
		}
		logs = append(logs, &cl)
	}
	return logs, rows.Err()
}
