package session

import (
	"context"
	"testing"

	apperrors "github.com/antsline/delilog-core/internal/errors"
	"github.com/antsline/delilog-core/internal/models"
	"github.com/antsline/delilog-core/internal/uuid"
)

// fakeQuerier is a programmable remote active-session view.
type fakeQuerier struct {
	calls   int
	session *models.WorkSession
	err     error
}

func (q *fakeQuerier) QueryActiveSession(ctx context.Context, userID, vehicleID string) (*models.WorkSession, error) {
	q.calls++
	if q.err != nil {
		return nil, q.err
	}
	return q.session, nil
}

// TestSelectStrategy tests capability detection: stores without the
// query method keep the local strategy untouched.
func TestSelectStrategy(t *testing.T) {
	f := setup(t)
	local := NewScanBacked(f.repo)

	if got := SelectStrategy(struct{}{}, local); got != LookupStrategy(local) {
		t.Error("Expected plain stores to keep the local strategy")
	}
	if _, ok := SelectStrategy(&fakeQuerier{}, local).(*RemoteFirst); !ok {
		t.Error("Expected querier-capable stores to get the remote-first strategy")
	}
}

// TestRemoteFirstUsesRemoteAnswer tests that a remote hit bypasses the
// local scan entirely.
func TestRemoteFirstUsesRemoteAnswer(t *testing.T) {
	f := setup(t)
	sessionID := models.UUID(uuid.New())
	remote := &fakeQuerier{session: &models.WorkSession{
		SessionID: sessionID,
		UserID:    "driver-1",
		VehicleID: "vehicle-1",
		Status:    models.SessionInProgress,
	}}
	strategy := NewRemoteFirst(remote, NewScanBacked(f.repo))

	open, err := strategy.OpenSessions("driver-1", "vehicle-1")
	if err != nil {
		t.Fatalf("OpenSessions failed: %v", err)
	}
	if len(open) != 1 || open[0].SessionID != sessionID {
		t.Fatalf("Expected the remote session, got %+v", open)
	}
	if remote.calls != 1 {
		t.Errorf("Expected one remote call, got %d", remote.calls)
	}
}

// TestRemoteFirstNoActiveSession tests that a definitive remote "none"
// is final rather than falling back to local.
func TestRemoteFirstNoActiveSession(t *testing.T) {
	f := setup(t)
	// A local open session that a lagging device might still hold.
	f.addCheckin(t, before("driver-1", models.UUID(uuid.New()), "2026-08-30", 100))

	remote := &fakeQuerier{err: apperrors.New(apperrors.ErrNoActiveSession, "no open session")}
	strategy := NewRemoteFirst(remote, NewScanBacked(f.repo))

	open, err := strategy.OpenSessions("driver-1", "vehicle-1")
	if err != nil {
		t.Fatalf("OpenSessions failed: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("Remote none is authoritative, got %d sessions", len(open))
	}
}

// TestRemoteFirstFallsBackOffline tests that transport failures fall
// through to the local strategy instead of surfacing.
func TestRemoteFirstFallsBackOffline(t *testing.T) {
	f := setup(t)
	sessionID := models.UUID(uuid.New())
	f.addCheckin(t, before("driver-1", sessionID, "2026-08-30", 100))

	remote := &fakeQuerier{err: apperrors.New(apperrors.ErrNetworkOffline, "connection refused")}
	strategy := NewRemoteFirst(remote, NewScanBacked(f.repo))

	open, err := strategy.OpenSessions("driver-1", "vehicle-1")
	if err != nil {
		t.Fatalf("OpenSessions failed: %v", err)
	}
	if len(open) != 1 || open[0].SessionID != sessionID {
		t.Fatalf("Expected local fallback session, got %+v", open)
	}
}

// TestRemoteFirstAnyVehicleStaysLocal tests that scans without a
// vehicle key never leave the device.
func TestRemoteFirstAnyVehicleStaysLocal(t *testing.T) {
	f := setup(t)
	sessionID := models.UUID(uuid.New())
	f.addCheckin(t, before("driver-1", sessionID, "2026-08-30", 100))

	remote := &fakeQuerier{}
	strategy := NewRemoteFirst(remote, NewScanBacked(f.repo))

	open, err := strategy.OpenSessions("driver-1", "")
	if err != nil {
		t.Fatalf("OpenSessions failed: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("Expected 1 local session, got %d", len(open))
	}
	if remote.calls != 0 {
		t.Errorf("Any-vehicle scan must not call remote, got %d calls", remote.calls)
	}
}
