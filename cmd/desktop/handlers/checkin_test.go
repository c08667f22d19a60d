package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/antsline/delilog-core/internal/db"
	"github.com/antsline/delilog-core/internal/services"
	"github.com/antsline/delilog-core/internal/session"
	syncpkg "github.com/antsline/delilog-core/internal/sync"
	"github.com/antsline/delilog-core/internal/sync/network"
	"github.com/antsline/delilog-core/internal/sync/queue"
	"github.com/antsline/delilog-core/internal/sync/scheduler"
)

// stubEngine satisfies the scheduler's engine interface without a
// remote store.
type stubEngine struct{}

func (s *stubEngine) Sync(ctx context.Context) (*syncpkg.CycleResult, error) {
	now := time.Now()
	return &syncpkg.CycleResult{StartTime: now, EndTime: now}, nil
}

func setupHandlers(t *testing.T) (*http.ServeMux, *network.Monitor) {
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
	q, err := queue.New(repo, queue.DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}

	monitor := network.NewMonitor(0)
	t.Cleanup(monitor.Close)

	sched := scheduler.NewScheduler(&stubEngine{}, monitor, nil)
	sessions := session.NewResolver(session.NewViewBacked(database))
	service := services.NewCheckinService(repo, q, sessions, nil, sched)

	checkinHandler := NewCheckinHandler(service)
	syncHandler := NewSyncHandler(service, sched, monitor)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/checkins/before", checkinHandler.CreateBefore)
	mux.HandleFunc("POST /api/checkins/after", checkinHandler.CreateAfter)
	mux.HandleFunc("GET /api/checkins", checkinHandler.List)
	mux.HandleFunc("GET /api/sessions/active", checkinHandler.ActiveSession)
	mux.HandleFunc("POST /api/network", syncHandler.SetNetwork)
	mux.HandleFunc("GET /api/sync/status", syncHandler.GetStatus)

	return mux, monitor
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func beforeBody(userID string) map[string]interface{} {
	return map[string]interface{}{
		"user_id":           userID,
		"vehicle_id":        "vehicle-1",
		"health_status":     "good",
		"alcohol_level":     0.0,
		"vehicle_inspected": true,
	}
}

func TestCreateBeforeCheckinEndpoint(t *testing.T) {
	mux, _ := setupHandlers(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/checkins/before", beforeBody("driver-1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	list := doJSON(t, mux, http.MethodGet, "/api/checkins?user_id=driver-1", nil)
	if list.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", list.Code)
	}
	var listResp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(list.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	if listResp.Count != 1 {
		t.Errorf("Expected 1 check-in, got %d", listResp.Count)
	}
}

func TestCreateBeforeCheckinValidation(t *testing.T) {
	mux, _ := setupHandlers(t)

	body := beforeBody("driver-1")
	body["health_status"] = "terrible"
	rec := doJSON(t, mux, http.MethodPost, "/api/checkins/before", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestSecondOpenSessionConflict(t *testing.T) {
	mux, _ := setupHandlers(t)

	if rec := doJSON(t, mux, http.MethodPost, "/api/checkins/before", beforeBody("driver-1")); rec.Code != http.StatusCreated {
		t.Fatalf("First check-in failed: %d", rec.Code)
	}
	rec := doJSON(t, mux, http.MethodPost, "/api/checkins/before", beforeBody("driver-1"))
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", rec.Code)
	}
}

func TestAfterCheckinWithoutSessionConflict(t *testing.T) {
	mux, _ := setupHandlers(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/checkins/after", map[string]interface{}{
		"user_id":       "driver-1",
		"health_status": "normal",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", rec.Code)
	}
}

func TestActiveSessionEndpoint(t *testing.T) {
	mux, _ := setupHandlers(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/sessions/active?user_id=driver-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp struct {
		Active bool `json:"active"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if resp.Active {
		t.Error("Expected no active session")
	}

	doJSON(t, mux, http.MethodPost, "/api/checkins/before", beforeBody("driver-1"))

	rec = doJSON(t, mux, http.MethodGet, "/api/sessions/active?user_id=driver-1", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if !resp.Active {
		t.Error("Expected an active session after before-work check-in")
	}

	// The lookup is keyed by (user, vehicle).
	rec = doJSON(t, mux, http.MethodGet, "/api/sessions/active?user_id=driver-1&vehicle_id=vehicle-2", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if resp.Active {
		t.Error("Expected no session on an unrelated vehicle")
	}
}

func TestSetNetworkEndpoint(t *testing.T) {
	mux, monitor := setupHandlers(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/network", map[string]interface{}{"online": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if monitor.IsOnline() {
		t.Error("Expected monitor offline")
	}

	doJSON(t, mux, http.MethodPost, "/api/network", map[string]interface{}{"online": true})
	if !monitor.IsOnline() {
		t.Error("Expected monitor online again")
	}
}

func TestSyncStatusEndpoint(t *testing.T) {
	mux, _ := setupHandlers(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/sync/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var report syncpkg.StatusReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if report.Status != syncpkg.SyncStatusIdle {
		t.Errorf("Expected idle status, got %s", report.Status)
	}
}
