package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/antsline/delilog-core/internal/errors"
	"github.com/antsline/delilog-core/internal/models"
	"github.com/antsline/delilog-core/internal/services"
)

// CheckinHandler exposes check-in capture and session queries.
type CheckinHandler struct {
	service *services.CheckinService
}

// NewCheckinHandler creates a CheckinHandler.
func NewCheckinHandler(service *services.CheckinService) *CheckinHandler {
	return &CheckinHandler{service: service}
}

// CreateBefore handles POST /api/checkins/before.
func (h *CheckinHandler) CreateBefore(w http.ResponseWriter, r *http.Request) {
	var input services.BeforeCheckinInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid request body", err))
		return
	}

	envelope, err := h.service.CreateBeforeCheckin(input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope)
}

// CreateAfter handles POST /api/checkins/after.
func (h *CheckinHandler) CreateAfter(w http.ResponseWriter, r *http.Request) {
	var input services.AfterCheckinInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid request body", err))
		return
	}

	envelope, err := h.service.CreateAfterCheckin(input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope)
}

// List handles GET /api/checkins?user_id=...
func (h *CheckinHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, apperrors.New(apperrors.ErrValidation, "user_id is required"))
		return
	}

	records, err := h.service.ListCheckins(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"checkins": records,
		"count":    len(records),
	})
}

// Get handles GET /api/checkins/{id}.
func (h *CheckinHandler) Get(w http.ResponseWriter, r *http.Request) {
	envelope, rec, err := h.service.GetCheckin(models.UUID(r.PathValue("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"record":  envelope,
		"checkin": rec,
	})
}

// Update handles PATCH /api/checkins/{id}.
func (h *CheckinHandler) Update(w http.ResponseWriter, r *http.Request) {
	var update services.CheckinUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid request body", err))
		return
	}

	envelope, err := h.service.UpdateCheckin(models.UUID(r.PathValue("id")), update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}

// Delete handles DELETE /api/checkins/{id}.
func (h *CheckinHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteCheckin(models.UUID(r.PathValue("id"))); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ActiveSession handles GET /api/sessions/active?user_id=...&vehicle_id=...
// vehicle_id is optional; without it any single open session matches.
func (h *CheckinHandler) ActiveSession(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, apperrors.New(apperrors.ErrValidation, "user_id is required"))
		return
	}

	sess, err := h.service.ActiveSession(userID, r.URL.Query().Get("vehicle_id"))
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNoActiveSession) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":  true,
		"session": sess,
	})
}

// Sessions handles GET /api/sessions?user_id=...&date=YYYY-MM-DD.
func (h *CheckinHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	workDate := r.URL.Query().Get("date")
	if userID == "" || workDate == "" {
		writeError(w, apperrors.New(apperrors.ErrValidation, "user_id and date are required"))
		return
	}

	sessions, err := h.service.SessionsForDate(userID, workDate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// =====================================================
// Vehicles and profile
// =====================================================

// SaveVehicle handles POST /api/vehicles and PUT /api/vehicles/{id}.
func (h *CheckinHandler) SaveVehicle(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid request body", err))
		return
	}

	localID := models.UUID(r.PathValue("id"))
	envelope, err := h.service.SaveVehicle(localID, v)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if localID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, envelope)
}

// ListVehicles handles GET /api/vehicles.
func (h *CheckinHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := h.service.ListVehicles()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"vehicles": vehicles,
		"count":    len(vehicles),
	})
}

// SaveProfile handles PUT /api/profile.
func (h *CheckinHandler) SaveProfile(w http.ResponseWriter, r *http.Request) {
	var p models.DriverProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrValidation, "invalid request body", err))
		return
	}

	envelope, err := h.service.SaveProfile(p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope)
}
