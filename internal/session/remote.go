package session

import (
	"context"
	"time"

	apperrors "github.com/antsline/delilog-core/internal/errors"
	"github.com/antsline/delilog-core/internal/logging"
	"github.com/antsline/delilog-core/internal/models"
)

// ActiveSessionQuerier is the capability a remote store may offer:
// an aggregate view answering the open-session question for one
// (user, vehicle) pair. Declared here consumer-side so this package
// does not depend on the sync contract.
type ActiveSessionQuerier interface {
	QueryActiveSession(ctx context.Context, userID, vehicleID string) (*models.WorkSession, error)
}

// RemoteFirst answers open-session lookups through the remote
// aggregate view and falls back to a local strategy when the remote
// cannot answer: no vehicle key, transport failure, or timeout.
// Reads that are inherently local (by ID, by date) stay local.
type RemoteFirst struct {
	querier ActiveSessionQuerier
	local   LookupStrategy
	timeout time.Duration
}

// NewRemoteFirst creates a RemoteFirst over the given querier and
// local fallback.
func NewRemoteFirst(querier ActiveSessionQuerier, local LookupStrategy) *RemoteFirst {
	return &RemoteFirst{
		querier: querier,
		local:   local,
		timeout: 3 * time.Second,
	}
}

// SelectStrategy prefers the remote view when the store supports it.
// The store is passed as interface{} so callers hand in whatever
// remote client they composed; anything without the capability gets
// the local strategy unchanged.
func SelectStrategy(store interface{}, local LookupStrategy) LookupStrategy {
	if querier, ok := store.(ActiveSessionQuerier); ok {
		return NewRemoteFirst(querier, local)
	}
	return local
}

func (r *RemoteFirst) OpenSessions(userID, vehicleID string) ([]*models.WorkSession, error) {
	// The remote view is keyed by (user, vehicle); an any-vehicle scan
	// has to run locally.
	if vehicleID == "" {
		return r.local.OpenSessions(userID, vehicleID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	sess, err := r.querier.QueryActiveSession(ctx, userID, vehicleID)
	if err == nil {
		return []*models.WorkSession{sess}, nil
	}
	if apperrors.Is(err, apperrors.ErrNoActiveSession) {
		return nil, nil
	}

	logging.Debug("Remote session lookup failed, falling back to local",
		map[string]interface{}{"user_id": userID, "error": err.Error()})
	return r.local.OpenSessions(userID, vehicleID)
}

func (r *RemoteFirst) SessionByID(sessionID models.UUID) (*models.WorkSession, error) {
	return r.local.SessionByID(sessionID)
}

func (r *RemoteFirst) SessionsForDate(userID, workDate string) ([]*models.WorkSession, error) {
	return r.local.SessionsForDate(userID, workDate)
}
