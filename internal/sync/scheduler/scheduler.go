// Package scheduler drives periodic sync cycles. The cadence depends on
// whether the app is foregrounded, and connectivity recovery triggers an
// immediate cycle.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/antsline/delilog-core/internal/errors"
	"github.com/antsline/delilog-core/internal/logging"
	syncpkg "github.com/antsline/delilog-core/internal/sync"
	"github.com/antsline/delilog-core/internal/sync/network"
)

// Engine is the slice of the sync engine the scheduler drives. The
// engine coalesces overlapping cycles itself, so the scheduler can
// trigger freely.
type Engine interface {
	Sync(ctx context.Context) (*syncpkg.CycleResult, error)
}

// Config holds scheduler configuration.
type Config struct {
	ForegroundInterval time.Duration // cadence while the app is visible
	BackgroundInterval time.Duration // cadence while backgrounded
	CycleTimeout       time.Duration // upper bound for one full cycle
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		ForegroundInterval: 30 * time.Second,
		BackgroundInterval: 5 * time.Minute,
		CycleTimeout:       5 * time.Minute,
	}
}

// Scheduler triggers sync cycles on a timer and on connectivity
// recovery.
type Scheduler struct {
	engine  Engine
	monitor *network.Monitor

	foregroundInterval time.Duration
	backgroundInterval time.Duration
	cycleTimeout       time.Duration

	mu         sync.RWMutex
	isRunning  bool
	foreground bool
	lastRun    time.Time
	lastResult *syncpkg.CycleResult

	stopCh chan struct{}
	kickCh chan struct{}
	wakeCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. The monitor may be nil; without it
// only the timer drives cycles.
func NewScheduler(engine Engine, monitor *network.Monitor, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}

	return &Scheduler{
		engine:             engine,
		monitor:            monitor,
		foregroundInterval: config.ForegroundInterval,
		backgroundInterval: config.BackgroundInterval,
		cycleTimeout:       config.CycleTimeout,
		foreground:         true,
		stopCh:             make(chan struct{}),
		kickCh:             make(chan struct{}, 1),
		wakeCh:             make(chan struct{}, 1),
	}
}

// Start launches the scheduling loop and hooks connectivity recovery.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	if s.monitor != nil {
		s.monitor.Subscribe(func(status network.Status) {
			if status == network.StatusOnline {
				logging.Info("Connectivity restored, triggering sync", nil)
				s.TriggerSync()
			}
		})
	}

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Sync scheduler started",
		map[string]interface{}{
			"foreground_interval": s.foregroundInterval.String(),
			"background_interval": s.backgroundInterval.String(),
		})
}

// Stop stops the scheduling loop gracefully.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Sync scheduler stopped", nil)
}

// SetForeground switches the sync cadence. Foreground mode polls
// frequently so the driver sees fresh status; background mode backs
// off to spare battery and data.
func (s *Scheduler) SetForeground(foreground bool) {
	s.mu.Lock()
	changed := s.foreground != foreground
	s.foreground = foreground
	s.mu.Unlock()

	if !changed {
		return
	}

	logging.Debug("Sync cadence changed",
		map[string]interface{}{"foreground": foreground})

	// Re-arm the loop timer with the new interval.
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// TriggerSync requests an immediate cycle without waiting for the
// timer. Requests arriving while one is pending coalesce.
func (s *Scheduler) TriggerSync() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

// SyncNow runs one cycle synchronously and returns its result.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.CycleResult, error) {
	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	result, err := s.engine.Sync(cycleCtx)
	if err != nil {
		return nil, err
	}
	s.recordRun(result)
	return result, nil
}

// loop waits for the next due cycle, a manual trigger, or a cadence
// change.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		timer := time.NewTimer(s.interval())

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.wakeCh:
			timer.Stop()
		case <-s.kickCh:
			timer.Stop()
			s.runCycle(ctx)
		case <-timer.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one bounded sync cycle.
func (s *Scheduler) runCycle(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	result, err := s.engine.Sync(cycleCtx)
	if err != nil {
		logging.ErrorWithCode("Scheduled sync failed", string(errors.ErrSyncFailed), err, nil)
		return
	}
	s.recordRun(result)

	if !result.Skipped {
		logging.Debug("Scheduled sync finished",
			map[string]interface{}{
				"pushed":    result.Pushed,
				"failed":    result.Failed,
				"conflicts": result.Conflicts,
			})
	}
}

func (s *Scheduler) recordRun(result *syncpkg.CycleResult) {
	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastResult = result
	s.mu.Unlock()
}

func (s *Scheduler) interval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.foreground {
		return s.foregroundInterval
	}
	return s.backgroundInterval
}

// Status describes the scheduler for UI display.
type Status struct {
	IsRunning  bool
	Foreground bool
	LastRun    *time.Time
	LastResult *syncpkg.CycleResult
}

// GetStatus returns the current scheduler status.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		IsRunning:  s.isRunning,
		Foreground: s.foreground,
		LastResult: s.lastResult,
	}
	if !s.lastRun.IsZero() {
		lastRun := s.lastRun
		status.LastRun = &lastRun
	}
	return status
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
