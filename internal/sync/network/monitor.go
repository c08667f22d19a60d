// Package network tracks connectivity as reported by the host platform
// and notifies listeners on transitions. The host shell (desktop tray,
// mobile bridge) pushes status changes in; the engine and scheduler
// subscribe to react.
package network

import (
	"sync"
	"time"

	"github.com/antsline/delilog-core/internal/logging"
)

// Status represents the current connectivity state.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Listener receives connectivity transitions.
type Listener func(Status)

// Monitor holds the last reported connectivity status and dispatches
// transitions to subscribers. Offline-to-online transitions are held
// back by a short debounce so a flapping link does not fire a burst of
// reconnect work.
type Monitor struct {
	mu        sync.Mutex
	status    Status
	debounce  time.Duration
	pending   *time.Timer
	listeners []Listener

	// afterFunc is swappable for tests.
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewMonitor creates a Monitor. The initial status is unknown until the
// host reports; debounce applies to recovery transitions only.
func NewMonitor(debounce time.Duration) *Monitor {
	return &Monitor{
		status:    StatusUnknown,
		debounce:  debounce,
		afterFunc: time.AfterFunc,
	}
}

// Subscribe registers a listener for connectivity transitions.
// Listeners are invoked outside the monitor lock.
func (m *Monitor) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Status returns the last reported connectivity status.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsOnline reports whether the last transition left us online.
func (m *Monitor) IsOnline() bool {
	return m.Status() == StatusOnline
}

// SetStatus records a connectivity report from the host platform.
// Duplicate reports are ignored. Going offline takes effect
// immediately; coming back online is debounced.
func (m *Monitor) SetStatus(status Status) {
	m.mu.Lock()

	// Any in-flight recovery is void once a new report arrives. This
	// must happen before the duplicate check: during a debounced
	// recovery the committed status is still offline, so a fresh
	// offline report looks like a duplicate yet has to kill the timer.
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}

	if status == m.status {
		m.mu.Unlock()
		return
	}

	if status == StatusOnline && m.status == StatusOffline && m.debounce > 0 {
		logging.Debug("Connectivity recovery debounce started",
			map[string]interface{}{"debounce": m.debounce.String()})
		m.pending = m.afterFunc(m.debounce, m.confirmOnline)
		m.mu.Unlock()
		return
	}

	m.transitionLocked(status)
}

// confirmOnline completes a debounced recovery.
func (m *Monitor) confirmOnline() {
	m.mu.Lock()
	if m.pending == nil {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	m.transitionLocked(StatusOnline)
}

// transitionLocked commits a status change and notifies listeners.
// Callers hold the lock; it is released before listeners run.
func (m *Monitor) transitionLocked(status Status) {
	previous := m.status
	m.status = status
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	logging.Info("Connectivity changed",
		map[string]interface{}{
			"from": string(previous),
			"to":   string(status),
		})

	for _, l := range listeners {
		l(status)
	}
}

// Close cancels any pending recovery timer.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}
