package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/antsline/delilog-core/internal/errors"
	"github.com/antsline/delilog-core/internal/services"
	"github.com/antsline/delilog-core/internal/sync/network"
	"github.com/antsline/delilog-core/internal/sync/scheduler"
)

// SyncHandler exposes sync control: status, manual trigger, retry of
// failed operations, conflict history, and the connectivity and
// app-state signals the host shell feeds in.
type SyncHandler struct {
	service   *services.CheckinService
	scheduler *scheduler.Scheduler
	monitor   *network.Monitor
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(service *services.CheckinService, sched *scheduler.Scheduler, monitor *network.Monitor) *SyncHandler {
	return &SyncHandler{service: service, scheduler: sched, monitor: monitor}
}

// GetStatus handles GET /api/sync/status.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.GetSyncStatus())
}

// SyncNow handles POST /api/sync/now. The cycle runs inline so the
// caller sees the result; a cycle already in flight reports skipped.
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pushed":      result.Pushed,
		"conflicts":   result.Conflicts,
		"failed":      result.Failed,
		"remaining":   result.Remaining,
		"skipped":     result.Skipped,
		"skip_reason": result.SkipReason,
		"duration_ms": result.Duration.Milliseconds(),
	})
}

// RetryFailed handles POST /api/sync/retry.
func (h *SyncHandler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.RetryFailed()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"retried": count})
}

// ListFailed handles GET /api/sync/failed.
func (h *SyncHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	items := h.service.ListFailedOperations()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"operations": items,
		"count":      len(items),
	})
}

// ListConflicts handles GET /api/sync/conflicts.
func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.ListConflicts(50)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conflicts": logs,
		"count":     len(logs),
	})
}

// SetNetwork handles POST /api/network. The host shell reports
// connectivity changes here; recovery is debounced before it triggers
// a sync.
func (h *SyncHandler) SetNetwork(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid request body", err))
		return
	}

	status := network.StatusOffline
	if request.Online {
		status = network.StatusOnline
	}
	h.monitor.SetStatus(status)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": string(h.monitor.Status()),
	})
}

// SetAppState handles POST /api/app/state. Foreground switches the
// scheduler to its short cadence, background to the long one.
func (h *SyncHandler) SetAppState(w http.ResponseWriter, r *http.Request) {
	var request struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid request body", err))
		return
	}

	switch request.State {
	case "foreground":
		h.scheduler.SetForeground(true)
	case "background":
		h.scheduler.SetForeground(false)
	default:
		writeError(w, apperrors.New(apperrors.ErrValidation, "state must be foreground or background"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"state": request.State})
}
