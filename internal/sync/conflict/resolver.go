// Package conflict provides conflict resolution for records edited on
// more than one device between sync cycles.
package conflict

import (
	"time"

	"github.com/antsline/delilog-core/internal/logging"
	"github.com/antsline/delilog-core/internal/models"
)

// ResolutionStrategy defines how conflicts are resolved.
type ResolutionStrategy string

const (
	ResolutionStrategyLastWriteWins ResolutionStrategy = "last_write_wins"
)

// Winner identifies which side of a conflict was kept.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
)

// Resolver decides between local and remote versions of a record.
type Resolver struct {
	strategy ResolutionStrategy
	now      func() time.Time
}

// NewResolver creates a Resolver with the specified strategy.
func NewResolver(strategy ResolutionStrategy) *Resolver {
	return &Resolver{
		strategy: strategy,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests use this to pin DetectedAt.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// Conflict represents a detected divergence between a local record and
// its remote counterpart.
type Conflict struct {
	LocalRecord     *models.LocalRecord
	RemoteRecord    *models.RemoteRecord
	LocalTimestamp  int64
	RemoteTimestamp int64
	DetectedAt      int64
}

// ResolveResult is the outcome of conflict resolution. The winning
// payload replaces the losing one; the ConflictLog entry is persisted
// for user awareness.
type ResolveResult struct {
	Winner      Winner
	Payload     []byte
	Strategy    ResolutionStrategy
	ConflictLog *models.ConflictLog
}

// Resolve resolves a conflict using the configured strategy.
func (r *Resolver) Resolve(conflict *Conflict) (*ResolveResult, error) {
	if conflict == nil || conflict.LocalRecord == nil || conflict.RemoteRecord == nil {
		return nil, ErrInvalidConflict
	}

	logging.Info("Resolving conflict",
		map[string]interface{}{
			"local_id":         conflict.LocalRecord.LocalID.String(),
			"local_timestamp":  conflict.LocalTimestamp,
			"remote_timestamp": conflict.RemoteTimestamp,
			"strategy":         r.strategy,
		})

	switch r.strategy {
	case ResolutionStrategyLastWriteWins:
		return r.resolveLastWriteWins(conflict)
	default:
		return r.resolveLastWriteWins(conflict)
	}
}

// resolveLastWriteWins keeps the version with the newer timestamp.
// The remote version wins on equal timestamps: the server copy is
// already visible to other devices, so adopting it converges every
// device on the same record.
func (r *Resolver) resolveLastWriteWins(conflict *Conflict) (*ResolveResult, error) {
	var winner Winner
	var payload []byte

	if conflict.LocalTimestamp > conflict.RemoteTimestamp {
		winner = WinnerLocal
		payload = conflict.LocalRecord.Payload
	} else {
		winner = WinnerRemote
		payload = conflict.RemoteRecord.Payload
	}

	conflictLog := &models.ConflictLog{
		EntityType:      conflict.LocalRecord.EntityType,
		LocalID:         conflict.LocalRecord.LocalID,
		LocalTimestamp:  conflict.LocalTimestamp,
		RemoteTimestamp: conflict.RemoteTimestamp,
		Winner:          string(winner),
		DetectedAt:      r.now().Unix(),
	}

	logging.Info("Conflict resolved using last-write-wins",
		map[string]interface{}{
			"local_id":         conflict.LocalRecord.LocalID.String(),
			"winner":           string(winner),
			"local_timestamp":  conflict.LocalTimestamp,
			"remote_timestamp": conflict.RemoteTimestamp,
		})

	return &ResolveResult{
		Winner:      winner,
		Payload:     payload,
		Strategy:    ResolutionStrategyLastWriteWins,
		ConflictLog: conflictLog,
	}, nil
}

// DetectConflict reports whether a local record and its remote
// counterpart have diverged. Divergence exists when both versions are
// present and the remote timestamp differs from the local one; a
// matching timestamp means the remote copy is the write this device
// already pushed.
func (r *Resolver) DetectConflict(local *models.LocalRecord, remote *models.RemoteRecord) (*Conflict, bool) {
	if local == nil || remote == nil {
		return nil, false
	}

	if local.UpdatedAtLocal == remote.UpdatedAt {
		return nil, false
	}

	conflict := &Conflict{
		LocalRecord:     local,
		RemoteRecord:    remote,
		LocalTimestamp:  local.UpdatedAtLocal,
		RemoteTimestamp: remote.UpdatedAt,
		DetectedAt:      r.now().Unix(),
	}

	logging.Warn("Concurrent edit conflict detected",
		map[string]interface{}{
			"local_id":         local.LocalID.String(),
			"local_timestamp":  local.UpdatedAtLocal,
			"remote_timestamp": remote.UpdatedAt,
		})

	return conflict, true
}

// ResolveMultiple resolves conflicts in batch.
func (r *Resolver) ResolveMultiple(conflicts []*Conflict) ([]*ResolveResult, error) {
	results := make([]*ResolveResult, 0, len(conflicts))

	for _, c := range conflicts {
		result, err := r.Resolve(c)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, nil
}

// Errors
var (
	ErrInvalidConflict = &ConflictError{Message: "invalid conflict: both versions must be non-nil"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}
