package sync

import (
	"context"
	"encoding/json"

	"github.com/antsline/delilog-core/internal/models"
)

// RemoteStore defines the remote persistence contract the engine drains
// the queue against. Implementations map these calls onto the actual
// backend; the engine only assumes per-record atomicity and that Insert
// returns the server-assigned ID.
type RemoteStore interface {
	// Insert creates a record remotely and returns the stored copy
	// with its server-assigned ID.
	Insert(ctx context.Context, entityType models.EntityType, payload json.RawMessage) (*models.RemoteRecord, error)

	// Update overwrites the remote record and returns the stored copy.
	Update(ctx context.Context, serverID string, entityType models.EntityType, payload json.RawMessage) (*models.RemoteRecord, error)

	// Delete removes the remote record. Deleting a record that is
	// already gone is not an error.
	Delete(ctx context.Context, serverID string, entityType models.EntityType) error

	// GetByID fetches the current remote copy, or a NOT_FOUND error.
	GetByID(ctx context.Context, serverID string, entityType models.EntityType) (*models.RemoteRecord, error)

	// Ping probes reachability without transferring records.
	Ping(ctx context.Context) error
}

// ActiveSessionQuerier is an optional RemoteStore capability: backends
// with a session aggregate view can answer the open-session question
// directly. Callers type-assert for it and fall back to local lookup
// when the store does not support it or the call fails.
type ActiveSessionQuerier interface {
	// QueryActiveSession returns the open session for (user, vehicle),
	// or a NO_ACTIVE_SESSION error when none is open.
	QueryActiveSession(ctx context.Context, userID, vehicleID string) (*models.WorkSession, error)
}
