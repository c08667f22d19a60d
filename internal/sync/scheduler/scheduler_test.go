package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	syncpkg "github.com/antsline/delilog-core/internal/sync"
	"github.com/antsline/delilog-core/internal/sync/network"
)

// mockEngine counts sync invocations.
type mockEngine struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockEngine) Sync(ctx context.Context) (*syncpkg.CycleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return &syncpkg.CycleResult{Pushed: 1}, nil
}

func (m *mockEngine) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met before timeout")
}

// TestPeriodicCycles tests that the timer drives cycles.
func TestPeriodicCycles(t *testing.T) {
	engine := &mockEngine{}
	s := NewScheduler(engine, nil, &Config{
		ForegroundInterval: 10 * time.Millisecond,
		BackgroundInterval: time.Hour,
		CycleTimeout:       time.Second,
	})

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return engine.callCount() >= 2 })
}

// TestTriggerSync tests the manual trigger path.
func TestTriggerSync(t *testing.T) {
	engine := &mockEngine{}
	s := NewScheduler(engine, nil, &Config{
		ForegroundInterval: time.Hour,
		BackgroundInterval: time.Hour,
		CycleTimeout:       time.Second,
	})

	s.Start(context.Background())
	defer s.Stop()

	s.TriggerSync()
	waitFor(t, 2*time.Second, func() bool { return engine.callCount() == 1 })
}

// TestRecoveryTriggersSync tests that coming back online starts a cycle
// without waiting for the timer.
func TestRecoveryTriggersSync(t *testing.T) {
	engine := &mockEngine{}
	monitor := network.NewMonitor(0)
	defer monitor.Close()

	s := NewScheduler(engine, monitor, &Config{
		ForegroundInterval: time.Hour,
		BackgroundInterval: time.Hour,
		CycleTimeout:       time.Second,
	})

	s.Start(context.Background())
	defer s.Stop()

	monitor.SetStatus(network.StatusOffline)
	monitor.SetStatus(network.StatusOnline)

	waitFor(t, 2*time.Second, func() bool { return engine.callCount() == 1 })
}

// TestSyncNow tests the synchronous path and status bookkeeping.
func TestSyncNow(t *testing.T) {
	engine := &mockEngine{}
	s := NewScheduler(engine, nil, nil)

	result, err := s.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow failed: %v", err)
	}
	if result.Pushed != 1 {
		t.Errorf("Unexpected result: %+v", result)
	}

	status := s.GetStatus()
	if status.LastRun == nil {
		t.Error("Expected last run recorded")
	}
	if status.LastResult == nil || status.LastResult.Pushed != 1 {
		t.Errorf("Expected last result recorded, got %+v", status.LastResult)
	}
}

// TestSetForeground tests cadence switching.
func TestSetForeground(t *testing.T) {
	engine := &mockEngine{}
	s := NewScheduler(engine, nil, nil)

	if s.interval() != s.foregroundInterval {
		t.Error("Expected foreground cadence by default")
	}

	s.SetForeground(false)
	if s.interval() != s.backgroundInterval {
		t.Error("Expected background cadence after backgrounding")
	}

	s.SetForeground(true)
	if s.interval() != s.foregroundInterval {
		t.Error("Expected foreground cadence after resume")
	}
}

// TestStartStopIdempotent tests repeated lifecycle calls.
func TestStartStopIdempotent(t *testing.T) {
	engine := &mockEngine{}
	s := NewScheduler(engine, nil, &Config{
		ForegroundInterval: time.Hour,
		BackgroundInterval: time.Hour,
		CycleTimeout:       time.Second,
	})

	s.Start(context.Background())
	s.Start(context.Background())
	if !s.IsRunning() {
		t.Error("Expected running after start")
	}

	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Error("Expected stopped after stop")
	}
}
