package session

import (
	"fmt"

	apperrors "github.com/antsline/delilog-core/internal/errors"
	"github.com/antsline/delilog-core/internal/logging"
	"github.com/antsline/delilog-core/internal/models"
)

// Resolver enforces the work-session consistency rules: one open
// session per (user, vehicle), after-work requires an open session, a
// session completes exactly once.
type Resolver struct {
	strategy LookupStrategy
}

// NewResolver creates a Resolver over the given lookup strategy.
func NewResolver(strategy LookupStrategy) *Resolver {
	return &Resolver{strategy: strategy}
}

// ActiveSession returns the single open session for (user, vehicle).
// An empty vehicleID matches any vehicle, which suits single-vehicle
// drivers. No open session yields NO_ACTIVE_SESSION; more than one
// open session for the key is an anomaly (usually a partial sync from
// another device, or several vehicles open under an empty vehicleID)
// and yields SESSION_AMBIGUOUS rather than guessing.
func (r *Resolver) ActiveSession(userID, vehicleID string) (*models.WorkSession, error) {
	open, err := r.strategy.OpenSessions(userID, vehicleID)
	if err != nil {
		return nil, err
	}

	switch len(open) {
	case 0:
		return nil, apperrors.New(apperrors.ErrNoActiveSession,
			fmt.Sprintf("no active session for user %s", userID))
	case 1:
		return open[0], nil
	default:
		logging.Warn("Multiple open sessions detected",
			map[string]interface{}{
				"user_id":    userID,
				"vehicle_id": vehicleID,
				"count":      len(open),
			})
		return nil, apperrors.New(apperrors.ErrSessionAmbiguous,
			fmt.Sprintf("%d open sessions for user %s, expected at most 1", len(open), userID))
	}
}

// HasActiveSession reports whether (user, vehicle) has an open
// session. Ambiguity still surfaces as an error.
func (r *Resolver) HasActiveSession(userID, vehicleID string) (bool, error) {
	_, err := r.ActiveSession(userID, vehicleID)
	if apperrors.Is(err, apperrors.ErrNoActiveSession) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CanStartSession checks that a before-work check-in is allowed: the
// user must not already have an open session on this vehicle. A
// session open on a different vehicle does not block; drivers switch
// vehicles mid-day.
func (r *Resolver) CanStartSession(userID, vehicleID string) error {
	active, err := r.HasActiveSession(userID, vehicleID)
	if err != nil {
		return err
	}
	if active {
		return apperrors.New(apperrors.ErrSessionOpen,
			fmt.Sprintf("user %s already has an open session on vehicle %s", userID, vehicleID))
	}
	return nil
}

// ValidateCompletion checks that an after-work check-in may close the
// given session and returns it. A missing session yields
// NO_ACTIVE_SESSION; a session that already has its after-work check-in
// yields DUPLICATE_COMPLETION.
func (r *Resolver) ValidateCompletion(userID string, sessionID models.UUID) (*models.WorkSession, error) {
	sess, err := r.strategy.SessionByID(sessionID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.New(apperrors.ErrNoActiveSession,
			fmt.Sprintf("session %s does not exist", sessionID))
	}
	if err != nil {
		return nil, err
	}

	// Another user's session is invisible here, same as a missing one.
	if sess.UserID != userID {
		return nil, apperrors.New(apperrors.ErrNoActiveSession,
			fmt.Sprintf("no session %s for this user", sessionID))
	}
	if sess.Completed() {
		return nil, apperrors.New(apperrors.ErrDuplicateCompletion,
			fmt.Sprintf("session %s is already completed", sessionID))
	}
	return sess, nil
}

// SessionsForDate returns the user's sessions for one work date. A
// session started before midnight keeps its original work date, so an
// overnight shift shows up under the day it began.
func (r *Resolver) SessionsForDate(userID, workDate string) ([]*models.WorkSession, error) {
	return r.strategy.SessionsForDate(userID, workDate)
}
