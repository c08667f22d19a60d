package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/antsline/delilog-core/internal/db"
	apperrors "github.com/antsline/delilog-core/internal/errors"
	"github.com/antsline/delilog-core/internal/models"
	"github.com/antsline/delilog-core/internal/sync/conflict"
	"github.com/antsline/delilog-core/internal/sync/network"
	"github.com/antsline/delilog-core/internal/sync/queue"
	"github.com/antsline/delilog-core/internal/uuid"
)

// testEventHandler collects engine events for assertions.
type testEventHandler struct {
	mu     sync.Mutex
	events []SyncEvent
}

func (h *testEventHandler) OnSyncEvent(event SyncEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *testEventHandler) types() []SyncEventType {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SyncEventType, len(h.events))
	for i, e := range h.events {
		out[i] = e.Type
	}
	return out
}

// fakeRemote is a programmable RemoteStore.
type fakeRemote struct {
	mu        sync.Mutex
	inserts   int
	updates   int
	deletes   int
	gets      int
	insertErr error
	updateErr error
	records   map[string]*models.RemoteRecord
	nextID    int
	updatedAt int64

	// blockInsert, when non-nil, stalls Insert until closed.
	blockInsert chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{records: make(map[string]*models.RemoteRecord), updatedAt: 1000}
}

func (f *fakeRemote) Insert(ctx context.Context, entityType models.EntityType, payload json.RawMessage) (*models.RemoteRecord, error) {
	f.mu.Lock()
	block := f.blockInsert
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.nextID++
	rec := &models.RemoteRecord{
		ServerID:   fmt.Sprintf("srv-%d", f.nextID),
		EntityType: entityType,
		Payload:    payload,
		UpdatedAt:  f.updatedAt,
	}
	f.records[rec.ServerID] = rec
	return rec, nil
}

func (f *fakeRemote) Update(ctx context.Context, serverID string, entityType models.EntityType, payload json.RawMessage) (*models.RemoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	rec := &models.RemoteRecord{
		ServerID:   serverID,
		EntityType: entityType,
		Payload:    payload,
		UpdatedAt:  f.updatedAt,
	}
	f.records[serverID] = rec
	return rec, nil
}

func (f *fakeRemote) Delete(ctx context.Context, serverID string, entityType models.EntityType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.records, serverID)
	return nil
}

func (f *fakeRemote) GetByID(ctx context.Context, serverID string, entityType models.EntityType) (*models.RemoteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	rec, ok := f.records[serverID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrNotFound, "remote record not found")
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRemote) Ping(ctx context.Context) error { return nil }

// testHarness wires a real repository and queue to a fake remote.
type testHarness struct {
	repo    *db.Repository
	queue   *queue.SyncQueue
	remote  *fakeRemote
	monitor *network.Monitor
	engine  *Engine
}

func setupEngine(t *testing.T) *testHarness {
	t.Helper()

	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	migrator := db.NewMigrator(database)
	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Failed to initialize migrator: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	repo := db.NewRepository(database)
	q, err := queue.New(repo, queue.Config{MaxSize: 100, MaxRetries: 3})
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	remote := newFakeRemote()
	monitor := network.NewMonitor(0)
	monitor.SetStatus(network.StatusOnline)
	t.Cleanup(monitor.Close)

	resolver := conflict.NewResolver(conflict.ResolutionStrategyLastWriteWins)
	engine := NewEngine(repo, q, remote, resolver, monitor)

	return &testHarness{repo: repo, queue: q, remote: remote, monitor: monitor, engine: engine}
}

// saveRecord persists a local record and returns it.
func (h *testHarness) saveRecord(t *testing.T, state models.SyncState, serverID string) *models.LocalRecord {
	t.Helper()
	rec := &models.LocalRecord{
		LocalID:    models.UUID(uuid.New()),
		EntityType: models.EntityCheckin,
		ServerID:   serverID,
		Payload:    []byte(`{"notes":"local"}`),
		State:      state,
	}
	if err := h.repo.SaveRecord(rec); err != nil {
		t.Fatalf("Failed to save record: %v", err)
	}
	return rec
}

func (h *testHarness) enqueue(t *testing.T, rec *models.LocalRecord, action models.QueueAction, payload json.RawMessage) *models.SyncQueueItem {
	t.Helper()
	item, err := h.queue.Enqueue(rec.EntityType, rec.LocalID, action, payload, models.PriorityHigh)
	if err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	return item
}

// TestSyncCreateFlow tests the full create path: local record, queued
// operation, delivery, server ID assignment, acknowledgment.
func TestSyncCreateFlow(t *testing.T) {
	h := setupEngine(t)
	rec := h.saveRecord(t, models.StateLocal, "")
	h.enqueue(t, rec, models.ActionCreate, rec.Payload)

	result, err := h.engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if result.Pushed != 1 || result.Failed != 0 {
		t.Errorf("Expected 1 pushed, got %+v", result)
	}
	if h.remote.inserts != 1 {
		t.Errorf("Expected 1 insert, got %d", h.remote.inserts)
	}

	stored, err := h.repo.GetRecord(rec.LocalID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if !stored.IsSynced() || stored.ServerID != "srv-1" {
		t.Errorf("Expected synced record with server ID, got state=%s server_id=%q",
			stored.State, stored.ServerID)
	}
	if h.queue.Size() != 0 {
		t.Errorf("Expected empty queue after ack, got %d", h.queue.Size())
	}
}

// TestSyncSkipsOffline tests the offline fast path: no remote calls,
// queue untouched.
func TestSyncSkipsOffline(t *testing.T) {
	h := setupEngine(t)
	h.monitor.SetStatus(network.StatusOffline)

	rec := h.saveRecord(t, models.StateLocal, "")
	h.enqueue(t, rec, models.ActionCreate, rec.Payload)

	result, err := h.engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if !result.Skipped || result.SkipReason != "offline" {
		t.Errorf("Expected offline skip, got %+v", result)
	}
	if h.remote.inserts != 0 {
		t.Error("Remote must not be touched while offline")
	}
	if h.queue.PendingCount() != 1 {
		t.Errorf("Expected queue preserved, got %d pending", h.queue.PendingCount())
	}
}

// TestSyncEmptyQueue tests the empty fast path.
func TestSyncEmptyQueue(t *testing.T) {
	h := setupEngine(t)

	result, err := h.engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !result.Skipped || result.SkipReason != "queue empty" {
		t.Errorf("Expected empty-queue skip, got %+v", result)
	}
	// Nothing to push means the store is already in sync.
	if h.engine.Status().LastSync == nil {
		t.Error("Expected last-sync marker set after empty-queue cycle")
	}
}

// TestLastSyncAdvancesOnPartialCycle tests that a cycle which pushed
// anything records a sync time even when other items failed, and that
// a fully failed cycle does not.
func TestLastSyncAdvancesOnPartialCycle(t *testing.T) {
	h := setupEngine(t)
	h.remote.updateErr = apperrors.New(apperrors.ErrRemoteTimeout, "remote timed out")

	created := h.saveRecord(t, models.StateLocal, "")
	h.enqueue(t, created, models.ActionCreate, created.Payload)

	modified := h.saveRecord(t, models.StatePending, "srv-9")
	h.remote.records["srv-9"] = &models.RemoteRecord{
		ServerID:   "srv-9",
		EntityType: models.EntityCheckin,
		Payload:    []byte(`{"notes":"old"}`),
		UpdatedAt:  modified.UpdatedAtLocal,
	}
	h.enqueue(t, modified, models.ActionUpdate, modified.Payload)

	result, err := h.engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if result.Pushed != 1 || result.Failed != 1 {
		t.Fatalf("Expected one push and one failure, got %+v", result)
	}
	if h.engine.Status().LastSync == nil {
		t.Error("Expected last-sync marker set after partial cycle")
	}
}

// TestLastSyncUnchangedOnFullFailure tests the contrast case: a cycle
// with zero deliveries leaves the marker alone.
func TestLastSyncUnchangedOnFullFailure(t *testing.T) {
	h := setupEngine(t)
	h.remote.insertErr = apperrors.New(apperrors.ErrRemoteTimeout, "remote timed out")

	rec := h.saveRecord(t, models.StateLocal, "")
	h.enqueue(t, rec, models.ActionCreate, rec.Payload)

	if _, err := h.engine.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if h.engine.Status().LastSync != nil {
		t.Error("Last-sync marker must not move when nothing was delivered")
	}
}

// TestSyncConcurrentCoalesce tests that overlapping sync triggers do
// not run a second cycle.
func TestSyncConcurrentCoalesce(t *testing.T) {
	h := setupEngine(t)

	block := make(chan struct{})
	h.remote.blockInsert = block

	rec := h.saveRecord(t, models.StateLocal, "")
	h.enqueue(t, rec, models.ActionCreate, rec.Payload)

	done := make(chan *CycleResult, 1)
	go func() {
		result, _ := h.engine.Sync(context.Background())
		done <- result
	}()

	// Wait until the first cycle holds the remote call open.
	deadline := time.After(2 * time.Second)
	for h.engine.Status().Status != SyncStatusSyncing {
		select {
		case <-deadline:
			t.Fatal("First cycle never started")
		case <-time.After(time.Millisecond):
		}
	}

	second, err := h.engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Second sync errored: %v", err)
	}
	if !second.Skipped {
		t.Error("Expected overlapping trigger to coalesce")
	}

	close(block)
	first := <-done
	if first.Pushed != 1 {
		t.Errorf("Expected first cycle to push 1, got %+v", first)
	}
}

// TestSyncRetryableFailure tests that transient remote errors re-queue
// the operation with backoff instead of dropping it.
func TestSyncRetryableFailure(t *testing.T) {
	h := setupEngine(t)
	h.remote.insertErr = apperrors.New(apperrors.ErrRemoteTimeout, "remote timed out")

	rec := h.saveRecord(t, models.StateLocal, "")
	h.enqueue(t, rec, models.ActionCreate, rec.Payload)

	result, err := h.engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if result.Failed != 1 || result.Pushed != 0 {
		t.Errorf("Expected 1 failure, got %+v", result)
	}
	if h.queue.PendingCount() != 1 {
		t.Errorf("Expected item re-queued, got %d pending", h.queue.PendingCount())
	}

	stored, err := h.repo.GetRecord(rec.LocalID)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if stored.IsSynced() {
		t.Error("Record must stay unsynced after failed delivery")
	}
}

// TestSyncPermanentFailure tests that remote rejections park the
// operation as failed immediately.
func TestSyncPermanentFailure(t *testing.T) {
	h := setupEngine(t)
	h.remote.insertErr = apperrors.New(apperrors.ErrRemoteRejected, "payload rejected")

	rec := h.saveRecord(t, models.StateLocal, "")
	h.enqueue(t, rec, models.ActionCreate, rec.Payload)

	if _, err := h.engine.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if h.queue.FailedCount() != 1 {
		t.Errorf("Expected 1 parked operation, got %d", h.queue.FailedCount())
	}
	if h.queue.PendingCount() != 0 {
		t.Errorf("Expected no pending operations, got %d", h.queue.PendingCount())
	}
}

// TestSyncCreateIdempotent tests that a create whose earlier attempt
// already got a server ID is not re-issued.
func TestSyncCreateIdempotent(t *testing.T) {
	h := setupEngine(t)

	rec := h.saveRecord(t, models.StatePending, "srv-99")
	h.enqueue(t, rec, models.ActionCreate, rec.Payload)

	result, err := h.engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if h.remote.inserts != 0 {
		t.Errorf("Expected no insert for already-created record, got %d", h.remote.inserts)
	}
	if result.Pushed != 1 {
		t.Errorf("Expected operation acknowledged, got %+v", result)
	}

	stored, _ := h.repo.GetRecord(rec.LocalID)
	if !stored.IsSynced() || stored.ServerID != "srv-99" {
		t.Errorf("Expected record synced with original server ID, got %+v", stored)
	}
}

// TestSyncUpdateNoConflict tests an update against an unchanged remote.
func TestSyncUpdateNoConflict(t *testing.T) {
	h := setupEngine(t)

	rec := h.saveRecord(t, models.StatePending, "srv-1")
	// Remote copy matches what this device last pushed.
	h.remote.records["srv-1"] = &models.RemoteRecord{
		ServerID:   "srv-1",
		EntityType: models.EntityCheckin,
		Payload:    []byte(`{"notes":"old"}`),
		UpdatedAt:  rec.UpdatedAtLocal,
	}
	h.remote.updatedAt = rec.UpdatedAtLocal + 5

	h.enqueue(t, rec, models.ActionUpdate, rec.Payload)

	result, err := h.engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if result.Conflicts != 0 || result.Pushed != 1 {
		t.Errorf("Expected conflict-free push, got %+v", result)
	}
	if h.remote.updates != 1 {
		t.Errorf("Expected 1 remote update, got %d", h.remote.updates)
	}

	stored, _ := h.repo.GetRecord(rec.LocalID)
	if stored.UpdatedAtLocal != rec.UpdatedAtLocal+5 {
		t.Errorf("Expected local timestamp adopted from remote ack, got %d", stored.UpdatedAtLocal)
	}
}

// TestSyncConflictRemoteWins tests that a newer remote edit overwrites
// the local one and a conflict log entry is kept.
func TestSyncConflictRemoteWins(t *testing.T) {
	h := setupEngine(t)

	rec := h.saveRecord(t, models.StatePending, "srv-1")
	h.remote.records["srv-1"] = &models.RemoteRecord{
		ServerID:   "srv-1",
		EntityType: models.EntityCheckin,
		Payload:    []byte(`{"notes":"remote edit"}`),
		UpdatedAt:  rec.UpdatedAtLocal + 100,
	}

	h.enqueue(t, rec, models.ActionUpdate, rec.Payload)

	result, err := h.engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if result.Conflicts != 1 {
		t.Errorf("Expected 1 conflict, got %+v", result)
	}
	if h.remote.updates != 0 {
		t.Error("Losing local edit must not be pushed")
	}

	stored, _ := h.repo.GetRecord(rec.LocalID)
	if string(stored.Payload) != `{"notes":"remote edit"}` {
		t.Errorf("Expected remote payload adopted, got %s", stored.Payload)
	}
	if stored.UpdatedAtLocal != rec.UpdatedAtLocal+100 {
		t.Errorf("Expected remote timestamp adopted, got %d", stored.UpdatedAtLocal)
	}

	logs, err := h.repo.ListConflictLogs(10)
	if err != nil {
		t.Fatalf("ListConflictLogs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Winner != "remote" {
		t.Errorf("Expected remote-wins conflict log, got %+v", logs)
	}
}

// TestSyncConflictLocalWins tests that a newer local edit survives a
// concurrent remote edit.
func TestSyncConflictLocalWins(t *testing.T) {
	h := setupEngine(t)

	rec := h.saveRecord(t, models.StatePending, "srv-1")
	h.remote.records["srv-1"] = &models.RemoteRecord{
		ServerID:   "srv-1",
		EntityType: models.EntityCheckin,
		Payload:    []byte(`{"notes":"stale remote"}`),
		UpdatedAt:  rec.UpdatedAtLocal - 100,
	}

	h.enqueue(t, rec, models.ActionUpdate, rec.Payload)

	result, err := h.engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if result.Conflicts != 1 {
		t.Errorf("Expected 1 conflict, got %+v", result)
	}
	if h.remote.updates != 1 {
		t.Errorf("Expected winning local edit pushed, got %d updates", h.remote.updates)
	}

	stored, _ := h.repo.GetRecord(rec.LocalID)
	if string(stored.Payload) != `{"notes":"local"}` {
		t.Errorf("Expected local payload kept, got %s", stored.Payload)
	}

	logs, _ := h.repo.ListConflictLogs(10)
	if len(logs) != 1 || logs[0].Winner != "local" {
		t.Errorf("Expected local-wins conflict log, got %+v", logs)
	}
}

// TestSyncUpdateRecreatesVanishedRemote tests the fallback when the
// server copy has disappeared.
func TestSyncUpdateRecreatesVanishedRemote(t *testing.T) {
	h := setupEngine(t)

	rec := h.saveRecord(t, models.StatePending, "srv-gone")
	h.enqueue(t, rec, models.ActionUpdate, rec.Payload)

	result, err := h.engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if result.Pushed != 1 || h.remote.inserts != 1 {
		t.Errorf("Expected re-create of vanished record, got %+v inserts=%d",
			result, h.remote.inserts)
	}
}

// TestSyncDelete tests remote deletion, including the never-synced case.
func TestSyncDelete(t *testing.T) {
	h := setupEngine(t)

	h.remote.records["srv-1"] = &models.RemoteRecord{ServerID: "srv-1"}

	rec := &models.LocalRecord{LocalID: models.UUID(uuid.New()), EntityType: models.EntityCheckin}
	h.enqueue(t, rec, models.ActionDelete, json.RawMessage(`{"server_id":"srv-1"}`))

	// Never-synced records carry no server ID; nothing to delete remotely.
	rec2 := &models.LocalRecord{LocalID: models.UUID(uuid.New()), EntityType: models.EntityCheckin}
	h.enqueue(t, rec2, models.ActionDelete, json.RawMessage(`{}`))

	result, err := h.engine.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if result.Pushed != 2 {
		t.Errorf("Expected both deletes acknowledged, got %+v", result)
	}
	if h.remote.deletes != 1 {
		t.Errorf("Expected exactly 1 remote delete, got %d", h.remote.deletes)
	}
	if _, ok := h.remote.records["srv-1"]; ok {
		t.Error("Expected remote record removed")
	}
}

// TestSyncEvents tests the notification stream over a successful cycle.
func TestSyncEvents(t *testing.T) {
	h := setupEngine(t)
	handler := &testEventHandler{}
	h.engine.SetEventHandler(handler)

	rec := h.saveRecord(t, models.StateLocal, "")
	h.enqueue(t, rec, models.ActionCreate, rec.Payload)

	if _, err := h.engine.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	types := handler.types()
	want := []SyncEventType{SyncEventStarted, SyncEventItem, SyncEventCompleted}
	if len(types) != len(want) {
		t.Fatalf("Expected %d events, got %v", len(want), types)
	}
	for i, w := range want {
		if types[i] != w {
			t.Errorf("Event %d: expected %s, got %s", i, w, types[i])
		}
	}
}

// TestStatusReport tests the health snapshot.
func TestStatusReport(t *testing.T) {
	h := setupEngine(t)

	report := h.engine.Status()
	if report.Status != SyncStatusIdle || !report.Online {
		t.Errorf("Unexpected initial report: %+v", report)
	}
	if report.LastSync != nil {
		t.Error("Expected no last sync before first cycle")
	}

	rec := h.saveRecord(t, models.StateLocal, "")
	h.enqueue(t, rec, models.ActionCreate, rec.Payload)
	if _, err := h.engine.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	report = h.engine.Status()
	if report.LastSync == nil {
		t.Error("Expected last sync recorded after successful cycle")
	}
	if report.PendingCount != 0 {
		t.Errorf("Expected empty backlog, got %d", report.PendingCount)
	}
}
