package conflict

import (
	"testing"
	"time"

	"github.com/antsline/delilog-core/internal/models"
	"github.com/antsline/delilog-core/internal/uuid"
)

func testConflict(localTS, remoteTS int64) *Conflict {
	localID := models.UUID(uuid.New())
	return &Conflict{
		LocalRecord: &models.LocalRecord{
			LocalID:        localID,
			EntityType:     models.EntityCheckin,
			Payload:        []byte(`{"notes":"local"}`),
			UpdatedAtLocal: localTS,
		},
		RemoteRecord: &models.RemoteRecord{
			ServerID:   "srv-1",
			EntityType: models.EntityCheckin,
			Payload:    []byte(`{"notes":"remote"}`),
			UpdatedAt:  remoteTS,
		},
		LocalTimestamp:  localTS,
		RemoteTimestamp: remoteTS,
	}
}

// TestResolveLocalNewer tests that a newer local edit overwrites remote.
func TestResolveLocalNewer(t *testing.T) {
	r := NewResolver(ResolutionStrategyLastWriteWins)

	result, err := r.Resolve(testConflict(2000, 1000))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if result.Winner != WinnerLocal {
		t.Errorf("Expected local winner, got %s", result.Winner)
	}
	if string(result.Payload) != `{"notes":"local"}` {
		t.Errorf("Expected local payload, got %s", result.Payload)
	}
}

// TestResolveRemoteNewer tests that a newer remote edit wins.
func TestResolveRemoteNewer(t *testing.T) {
	r := NewResolver(ResolutionStrategyLastWriteWins)

	result, err := r.Resolve(testConflict(1000, 2000))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if result.Winner != WinnerRemote {
		t.Errorf("Expected remote winner, got %s", result.Winner)
	}
	if string(result.Payload) != `{"notes":"remote"}` {
		t.Errorf("Expected remote payload, got %s", result.Payload)
	}
}

// TestResolveTieRemoteWins tests the deterministic tie break: equal
// timestamps go to the remote version.
func TestResolveTieRemoteWins(t *testing.T) {
	r := NewResolver(ResolutionStrategyLastWriteWins)

	result, err := r.Resolve(testConflict(1500, 1500))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if result.Winner != WinnerRemote {
		t.Errorf("Expected remote winner on tie, got %s", result.Winner)
	}
}

// TestResolveConflictLog tests the awareness log entry.
func TestResolveConflictLog(t *testing.T) {
	r := NewResolver(ResolutionStrategyLastWriteWins)
	r.SetClock(func() time.Time { return time.Unix(5000, 0) })

	c := testConflict(2000, 1000)
	result, err := r.Resolve(c)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	log := result.ConflictLog
	if log == nil {
		t.Fatal("Expected conflict log entry")
	}
	if log.LocalID != c.LocalRecord.LocalID {
		t.Errorf("Expected local ID %s, got %s", c.LocalRecord.LocalID, log.LocalID)
	}
	if log.LocalTimestamp != 2000 || log.RemoteTimestamp != 1000 {
		t.Errorf("Unexpected timestamps: %d / %d", log.LocalTimestamp, log.RemoteTimestamp)
	}
	if log.Winner != "local" {
		t.Errorf("Expected winner local, got %s", log.Winner)
	}
	if log.DetectedAt != 5000 {
		t.Errorf("Expected DetectedAt 5000, got %d", log.DetectedAt)
	}
}

// TestResolveInvalid tests nil-side rejection.
func TestResolveInvalid(t *testing.T) {
	r := NewResolver(ResolutionStrategyLastWriteWins)

	c := testConflict(1000, 2000)
	c.RemoteRecord = nil
	if _, err := r.Resolve(c); err != ErrInvalidConflict {
		t.Errorf("Expected ErrInvalidConflict, got %v", err)
	}
}

// TestDetectConflict tests divergence detection.
func TestDetectConflict(t *testing.T) {
	r := NewResolver(ResolutionStrategyLastWriteWins)

	local := &models.LocalRecord{
		LocalID:        models.UUID(uuid.New()),
		EntityType:     models.EntityCheckin,
		UpdatedAtLocal: 1000,
	}
	remote := &models.RemoteRecord{ServerID: "srv-1", UpdatedAt: 1000}

	if _, detected := r.DetectConflict(local, remote); detected {
		t.Error("Matching timestamps must not report a conflict")
	}

	remote.UpdatedAt = 1200
	c, detected := r.DetectConflict(local, remote)
	if !detected {
		t.Fatal("Expected conflict for diverged timestamps")
	}
	if c.LocalTimestamp != 1000 || c.RemoteTimestamp != 1200 {
		t.Errorf("Unexpected conflict timestamps: %d / %d", c.LocalTimestamp, c.RemoteTimestamp)
	}

	if _, detected := r.DetectConflict(nil, remote); detected {
		t.Error("Missing local version must not report a conflict")
	}
	if _, detected := r.DetectConflict(local, nil); detected {
		t.Error("Missing remote version must not report a conflict")
	}
}

// TestResolveMultiple tests batch resolution.
func TestResolveMultiple(t *testing.T) {
	r := NewResolver(ResolutionStrategyLastWriteWins)

	conflicts := []*Conflict{
		testConflict(2000, 1000),
		testConflict(1000, 2000),
	}
	results, err := r.ResolveMultiple(conflicts)
	if err != nil {
		t.Fatalf("ResolveMultiple failed: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Winner != WinnerLocal || results[1].Winner != WinnerRemote {
		t.Errorf("Unexpected winners: %s, %s", results[0].Winner, results[1].Winner)
	}
}
