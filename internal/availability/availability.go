// Package availability tracks whether the store is reachable and bounds how
// often reconnection is attempted after a failure.
package availability

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kitchme_bot/internal/logging"
	"kitchme_bot/internal/metrics"
)

// State is the tracker's view of the store.
type State int

const (
	// StateDown means store operations must be skipped.
	StateDown State = iota
	// StateUp means store operations may proceed.
	StateUp
)

const (
	// DefaultCooldown bounds how often a degraded data call may retry the
	// store after a failure.
	DefaultCooldown = 30 * time.Second
	// DefaultProbeInterval is the background probe period, so recovery
	// happens even with no incoming traffic.
	DefaultProbeInterval = 20 * time.Second
)

// ProbeFunc checks or prepares the store; a nil error means healthy.
type ProbeFunc func(ctx context.Context) error

// Tracker is the process-wide availability state machine. It starts DOWN and
// flips UP only after a successful probe, which also re-runs the recovery
// hook (schema ensure) exactly once per transition.
type Tracker struct {
	mu          sync.Mutex
	state       State
	probing     bool
	failures    uint64
	lastAttempt time.Time

	cooldown time.Duration
	interval time.Duration

	probe     ProbeFunc
	onRecover ProbeFunc

	logger *logrus.Entry
	now    func() time.Time
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithCooldown overrides the retry cooldown.
func WithCooldown(d time.Duration) Option {
	return func(t *Tracker) { t.cooldown = d }
}

// WithProbeInterval overrides the background probe period.
func WithProbeInterval(d time.Duration) Option {
	return func(t *Tracker) { t.interval = d }
}

// WithClock overrides the time source; used in tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New constructs a Tracker in the DOWN state. probe verifies connectivity;
// onRecover runs after a successful probe while DOWN, before the state flips
// UP (it may be nil).
func New(probe, onRecover ProbeFunc, logger *logrus.Entry, opts ...Option) *Tracker {
	if logger == nil {
		logger = logging.Logger()
	}

	t := &Tracker{
		state:     StateDown,
		cooldown:  DefaultCooldown,
		interval:  DefaultProbeInterval,
		probe:     probe,
		onRecover: onRecover,
		logger:    logger,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ReportFailure transitions to DOWN after a failed store operation. The
// cooldown window restarts from the failure.
func (t *Tracker) ReportFailure(err error) {
	t.mu.Lock()
	wasUp := t.state == StateUp
	t.state = StateDown
	t.failures++
	t.lastAttempt = t.now()
	t.mu.Unlock()

	if wasUp {
		t.logger.WithField("event", "store_down").WithError(err).Warn("store marked unavailable")
	}
}

// Ready reports whether a store operation may be attempted right now. While
// DOWN it refuses without touching the store until the cooldown has elapsed;
// after that it probes inline (recovering schema on success) so the caller
// only proceeds against a verified store.
func (t *Tracker) Ready(ctx context.Context) bool {
	t.mu.Lock()
	if t.state == StateUp {
		t.mu.Unlock()
		return true
	}
	if t.probing || t.now().Sub(t.lastAttempt) < t.cooldown {
		t.mu.Unlock()
		return false
	}
	t.probing = true
	t.lastAttempt = t.now()
	t.mu.Unlock()

	return t.runProbe(ctx)
}

// Run probes the store on a fixed interval until the context is canceled,
// so the tracker recovers even with no incoming requests. It probes once
// immediately on start.
func (t *Tracker) Run(ctx context.Context) {
	t.check(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.WithField("event", "probe_stopped").Info("availability probe stopped")
			return
		case <-ticker.C:
			t.check(ctx)
		}
	}
}

func (t *Tracker) check(ctx context.Context) {
	t.mu.Lock()
	if t.probing {
		t.mu.Unlock()
		return
	}
	t.probing = true
	t.lastAttempt = t.now()
	t.mu.Unlock()

	t.runProbe(ctx)
}

// runProbe assumes t.probing is held by the caller.
func (t *Tracker) runProbe(ctx context.Context) bool {
	t.mu.Lock()
	wasDown := t.state == StateDown
	gen := t.failures
	t.mu.Unlock()

	if err := t.probe(ctx); err != nil {
		t.settle(StateDown)
		if !wasDown {
			t.logger.WithField("event", "store_down").WithError(err).Warn("store probe failed")
		}
		return false
	}

	if wasDown && t.onRecover != nil {
		if err := t.onRecover(ctx); err != nil {
			t.settle(StateDown)
			t.logger.WithField("event", "store_recover_failed").WithError(err).Warn("store reachable but recovery hook failed")
			return false
		}
	}

	// A failure reported while this probe was in flight wins: stay DOWN so
	// the next probe runs the full recovery, hook included.
	t.mu.Lock()
	if t.failures != gen {
		t.state = StateDown
		t.probing = false
		t.lastAttempt = t.now()
		t.mu.Unlock()
		return false
	}
	t.state = StateUp
	t.probing = false
	t.lastAttempt = t.now()
	t.mu.Unlock()

	if wasDown {
		metrics.StoreRecoveries.Inc()
		t.logger.WithField("event", "store_up").Info("store available")
	}

	return true
}

func (t *Tracker) settle(state State) {
	t.mu.Lock()
	t.state = state
	t.probing = false
	t.lastAttempt = t.now()
	t.mu.Unlock()
}
