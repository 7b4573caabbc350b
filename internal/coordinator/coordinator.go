// Package coordinator decides when sync attempts run and guarantees that at
// most one runs at a time.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/piehlerb/job-estimator-sub000/internal/metrics"
	"github.com/piehlerb/job-estimator-sub000/internal/types"
)

// Default trigger timings.
const (
	DefaultInterval = 5 * time.Minute
	DefaultDebounce = 2 * time.Second
)

var (
	// ErrNotAuthenticated is returned when a sync is requested with no
	// signed-in user.
	ErrNotAuthenticated = errors.New("no authenticated user")
	// ErrSyncInProgress is returned when another attempt is already running.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrSyncFailed wraps the collected errors of an attempt that ran but did
	// not fully succeed.
	ErrSyncFailed = errors.New("sync completed with errors")
)

// Trigger names what started an attempt.
type Trigger string

const (
	TriggerStartup   Trigger = "startup"
	TriggerInterval  Trigger = "interval"
	TriggerReconnect Trigger = "reconnect"
	TriggerManual    Trigger = "manual"
	TriggerMutation  Trigger = "mutation"
)

// Syncer runs one sync attempt.
type Syncer interface {
	Sync(ctx context.Context) *types.SyncResult
}

// Authenticator reports the signed-in user.
type Authenticator interface {
	CurrentUser(ctx context.Context) (string, bool)
}

// PendingCounter reports how many changes are waiting to be pushed.
type PendingCounter interface {
	Count() int
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock is the time source used for scheduling.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Status is the observable sync state.
type Status struct {
	IsSyncing      bool              `json:"isSyncing"`
	LastSyncTime   *time.Time        `json:"lastSyncTime,omitempty"`
	LastError      string            `json:"lastError,omitempty"`
	PendingChanges int               `json:"pendingChanges"`
	LastResult     *types.SyncResult `json:"lastResult,omitempty"`
}

// Coordinator funnels every trigger into one guarded attempt.
type Coordinator struct {
	syncer  Syncer
	auth    Authenticator
	pending PendingCounter
	clock   Clock
	metrics *metrics.Metrics

	attemptTimeout time.Duration
	running        atomic.Bool
	wg             sync.WaitGroup

	mu            sync.Mutex
	ctx           context.Context
	started       bool
	interval      time.Duration
	debounce      time.Duration
	intervalTimer Timer
	debounceTimer Timer
	status        Status
	subscribers   map[int]func(Status)
	nextSub       int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithInterval sets the periodic trigger interval.
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.interval = d
	}
}

// WithDebounce sets the quiet period after a mutation.
func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) {
		c.debounce = d
	}
}

// WithClock overrides the scheduling clock.
func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// WithMetrics records attempts to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithAttemptTimeout bounds a single attempt. Zero means no bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.attemptTimeout = d
	}
}

// WithLastSyncTime seeds the status with a previously persisted sync time.
func WithLastSyncTime(t *time.Time) Option {
	return func(c *Coordinator) {
		c.status.LastSyncTime = t
	}
}

// New creates a stopped coordinator.
func New(syncer Syncer, auth Authenticator, pending PendingCounter, opts ...Option) *Coordinator {
	c := &Coordinator{
		syncer:      syncer,
		auth:        auth,
		pending:     pending,
		clock:       realClock{},
		interval:    DefaultInterval,
		debounce:    DefaultDebounce,
		subscribers: make(map[int]func(Status)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start arms the interval timer and runs one silent startup attempt.
// Background attempts use ctx. Calling Start twice has no effect.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx = ctx
	c.armIntervalLocked()
	interval, debounce := c.interval, c.debounce
	c.mu.Unlock()

	slog.Info("sync coordinator started",
		"component", "coordinator",
		"action", "coordinator_started",
		"interval", interval,
		"debounce", debounce,
	)
	c.runSilent(TriggerStartup)
}

// Stop cancels pending timers and waits for any background attempt to
// finish. In-flight attempts are not interrupted.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	wasStarted := c.started
	c.started = false
	c.stopTimersLocked()
	c.mu.Unlock()

	c.wg.Wait()
	if wasStarted {
		slog.Info("sync coordinator stopped",
			"component", "coordinator",
			"action", "coordinator_stopped",
		)
	}
}

// NotifyMutation schedules a sync after the debounce period. Each call
// replaces the previously scheduled one.
func (c *Coordinator) NotifyMutation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = c.clock.AfterFunc(c.debounce, func() {
		c.runSilent(TriggerMutation)
	})
}

// NotifyReconnect runs one silent attempt after network connectivity
// returns.
func (c *Coordinator) NotifyReconnect() {
	c.runSilent(TriggerReconnect)
}

// TriggerManualSync runs one attempt on the caller's goroutine and reports
// its outcome. It does not require Start.
func (c *Coordinator) TriggerManualSync(ctx context.Context) (*types.SyncResult, error) {
	result, err := c.attempt(ctx, TriggerManual)
	if err != nil && !errors.Is(err, ErrSyncInProgress) && !errors.Is(err, ErrNotAuthenticated) {
		slog.Warn("manual sync failed; changes are saved locally and will retry",
			"component", "coordinator",
			"action", "manual_sync_failed",
			"error", err,
		)
	}
	return result, err
}

// SetInterval changes the periodic interval and re-arms the timer.
func (c *Coordinator) SetInterval(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = d
	if c.started {
		c.armIntervalLocked()
	}
}

// SetDebounce changes the mutation quiet period for future mutations.
func (c *Coordinator) SetDebounce(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.debounce = d
}

// Status returns the current state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	s := c.status
	c.mu.Unlock()
	if c.pending != nil {
		s.PendingChanges = c.pending.Count()
	}
	return s
}

// Subscribe registers fn to receive every status change. The returned
// function removes the subscription.
func (c *Coordinator) Subscribe(fn func(Status)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

func (c *Coordinator) armIntervalLocked() {
	if c.intervalTimer != nil {
		c.intervalTimer.Stop()
		c.intervalTimer = nil
	}
	if c.interval <= 0 {
		return
	}
	c.intervalTimer = c.clock.AfterFunc(c.interval, c.onInterval)
}

func (c *Coordinator) onInterval() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.armIntervalLocked()
	c.mu.Unlock()
	c.runSilent(TriggerInterval)
}

func (c *Coordinator) stopTimersLocked() {
	if c.intervalTimer != nil {
		c.intervalTimer.Stop()
		c.intervalTimer = nil
	}
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
}

// runSilent starts a background attempt whose failure is only logged.
func (c *Coordinator) runSilent(trigger Trigger) {
	c.mu.Lock()
	if !c.started || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if _, err := c.attempt(ctx, trigger); err != nil && errors.Is(err, ErrSyncFailed) {
			slog.Warn("background sync failed",
				"component", "coordinator",
				"action", "sync_failed",
				"trigger", trigger,
				"error", err,
			)
		}
	}()
}

// attempt is the single entry point shared by every trigger.
func (c *Coordinator) attempt(ctx context.Context, trigger Trigger) (*types.SyncResult, error) {
	if _, ok := c.auth.CurrentUser(ctx); !ok {
		c.metrics.ObserveSkip(string(trigger), "unauthenticated")
		slog.Debug("sync skipped",
			"component", "coordinator",
			"action", "sync_skipped",
			"trigger", trigger,
			"reason", "unauthenticated",
		)
		return nil, ErrNotAuthenticated
	}
	if !c.running.CompareAndSwap(false, true) {
		c.metrics.ObserveSkip(string(trigger), "in_progress")
		slog.Debug("sync skipped",
			"component", "coordinator",
			"action", "sync_skipped",
			"trigger", trigger,
			"reason", "in_progress",
		)
		return nil, ErrSyncInProgress
	}
	defer c.running.Store(false)

	c.update(func(s *Status) { s.IsSyncing = true })

	runCtx := ctx
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	start := c.clock.Now()
	result := c.syncer.Sync(runCtx)
	elapsed := c.clock.Now().Sub(start)

	c.update(func(s *Status) {
		s.IsSyncing = false
		s.LastResult = result
		if result.Success {
			ts := result.Timestamp
			s.LastSyncTime = &ts
			s.LastError = ""
		} else {
			s.LastError = strings.Join(result.Errors, "; ")
		}
	})
	c.metrics.ObserveSync(string(trigger), result, elapsed)
	if c.pending != nil {
		c.metrics.SetPending(c.pending.Count())
	}

	slog.Info("sync attempt finished",
		"component", "coordinator",
		"action", "sync_finished",
		"trigger", trigger,
		"success", result.Success,
		"duration_ms", elapsed.Milliseconds(),
	)

	if !result.Success {
		return result, fmt.Errorf("%w: %s", ErrSyncFailed, strings.Join(result.Errors, "; "))
	}
	return result, nil
}

// update mutates the status and notifies subscribers outside the lock.
func (c *Coordinator) update(fn func(*Status)) {
	c.mu.Lock()
	fn(&c.status)
	s := c.status
	subs := make([]func(Status), 0, len(c.subscribers))
	for _, sub := range c.subscribers {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	if c.pending != nil {
		s.PendingChanges = c.pending.Count()
	}
	for _, sub := range subs {
		sub(s)
	}
}
