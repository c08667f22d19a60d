// Package handlers provides the localhost REST API of the desktop
// sidecar: check-in capture, session queries, vehicle and profile
// management, and sync control.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/antsline/delilog-core/internal/errors"
	"github.com/antsline/delilog-core/internal/logging"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Failed to encode response", err, nil)
	}
}

// writeError maps application error codes to HTTP statuses so the UI
// can branch on both.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.Code(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrValidation:
		status = http.StatusBadRequest
	case apperrors.ErrNoActiveSession, apperrors.ErrDuplicateCompletion,
		apperrors.ErrSessionOpen, apperrors.ErrSessionAmbiguous:
		status = http.StatusConflict
	case apperrors.ErrQueueFull:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    string(code),
			"message": err.Error(),
		},
	})
}
