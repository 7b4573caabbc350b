// Package connectivity watches whether the central store is reachable.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pinger checks reachability of the remote side.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor polls a Pinger and calls onReconnect whenever the remote becomes
// reachable after having been unreachable. The first check only records the
// initial state.
type Monitor struct {
	pinger      Pinger
	interval    time.Duration
	timeout     time.Duration
	onReconnect func()

	mu      sync.Mutex
	checked bool
	online  bool
}

// NewMonitor creates a monitor polling every interval.
func NewMonitor(pinger Pinger, interval time.Duration, onReconnect func()) *Monitor {
	timeout := interval / 2
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Monitor{
		pinger:      pinger,
		interval:    interval,
		timeout:     timeout,
		onReconnect: onReconnect,
	}
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "connectivity-monitor",
		"action", "worker_started",
	)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "connectivity-monitor",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check pings once and reports whether the remote is reachable.
func (m *Monitor) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.pinger.Ping(pingCtx)
	cancel()
	if ctx.Err() != nil {
		return m.Online()
	}
	up := err == nil

	m.mu.Lock()
	reconnected := m.checked && !m.online && up
	wentDown := m.checked && m.online && !up
	m.checked = true
	m.online = up
	m.mu.Unlock()

	switch {
	case reconnected:
		slog.Info("remote store reachable again",
			"component", "connectivity",
			"action", "reconnected",
		)
		if m.onReconnect != nil {
			m.onReconnect()
		}
	case wentDown:
		slog.Warn("remote store unreachable",
			"component", "connectivity",
			"action", "disconnected",
			"error", err,
		)
	}
	return up
}

// Online reports the result of the last check.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}
