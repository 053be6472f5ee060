package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

type stubProbe struct {
	err   error
	calls int
}

func (p *stubProbe) run(context.Context) error {
	p.calls++
	return p.err
}

func newTestTracker(t *testing.T, clock *fakeClock, probe, recover *stubProbe) *Tracker {
	t.Helper()
	hookLogger, _ := logtest.NewNullLogger()

	var onRecover ProbeFunc
	if recover != nil {
		onRecover = recover.run
	}

	return New(probe.run, onRecover, logrus.NewEntry(hookLogger), WithClock(clock.now))
}

func TestTrackerStartsDownAndRefusesBeforeProbe(t *testing.T) {
	clock := &fakeClock{current: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	probe := &stubProbe{err: errors.New("unreachable")}
	tracker := newTestTracker(t, clock, probe, nil)

	if tracker.State() != StateDown {
		t.Fatalf("expected initial state to be down")
	}

	// First Ready after construction is allowed to probe (lastAttempt zero).
	if tracker.Ready(context.Background()) {
		t.Fatalf("expected Ready to fail while probe errors")
	}
	if probe.calls != 1 {
		t.Fatalf("expected one probe attempt, got %d", probe.calls)
	}

	// Within the cooldown no further probes are attempted.
	clock.advance(5 * time.Second)
	if tracker.Ready(context.Background()) {
		t.Fatalf("expected Ready to short-circuit inside cooldown")
	}
	if probe.calls != 1 {
		t.Fatalf("expected probe not to run inside cooldown, got %d calls", probe.calls)
	}
}

func TestTrackerRecoversAfterCooldownAndRunsRecoveryOnce(t *testing.T) {
	clock := &fakeClock{current: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	probe := &stubProbe{err: errors.New("unreachable")}
	recover := &stubProbe{}
	tracker := newTestTracker(t, clock, probe, recover)

	if tracker.Ready(context.Background()) {
		t.Fatalf("expected initial probe to fail")
	}

	probe.err = nil
	clock.advance(DefaultCooldown)

	if !tracker.Ready(context.Background()) {
		t.Fatalf("expected Ready to succeed after cooldown with healthy store")
	}
	if tracker.State() != StateUp {
		t.Fatalf("expected state up after successful probe")
	}
	if recover.calls != 1 {
		t.Fatalf("expected recovery hook to run once, got %d", recover.calls)
	}

	// Further Ready calls while up neither probe nor recover again.
	if !tracker.Ready(context.Background()) {
		t.Fatalf("expected Ready to pass while up")
	}
	if probe.calls != 2 || recover.calls != 1 {
		t.Fatalf("expected no extra probe/recovery while up, got probe=%d recover=%d", probe.calls, recover.calls)
	}
}

func TestTrackerStaysDownWhenRecoveryHookFails(t *testing.T) {
	clock := &fakeClock{current: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	probe := &stubProbe{}
	recover := &stubProbe{err: errors.New("ensure schema failed")}
	tracker := newTestTracker(t, clock, probe, recover)

	if tracker.Ready(context.Background()) {
		t.Fatalf("expected Ready to fail when recovery hook fails")
	}
	if tracker.State() != StateDown {
		t.Fatalf("expected state to remain down")
	}
}

func TestReportFailureFlipsDownAndStartsCooldown(t *testing.T) {
	clock := &fakeClock{current: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	probe := &stubProbe{}
	tracker := newTestTracker(t, clock, probe, nil)

	if !tracker.Ready(context.Background()) {
		t.Fatalf("expected initial probe to succeed")
	}

	tracker.ReportFailure(errors.New("write failed"))
	if tracker.State() != StateDown {
		t.Fatalf("expected state down after reported failure")
	}

	// Cooldown starts at the failure, so an immediate retry is refused.
	if tracker.Ready(context.Background()) {
		t.Fatalf("expected Ready to refuse right after failure")
	}
	if probe.calls != 1 {
		t.Fatalf("expected no probe inside cooldown, got %d", probe.calls)
	}

	clock.advance(DefaultCooldown)
	if !tracker.Ready(context.Background()) {
		t.Fatalf("expected Ready to recover after cooldown")
	}
	if tracker.State() != StateUp {
		t.Fatalf("expected state up after recovery")
	}
}

func TestFailureDuringProbeKeepsStoreDown(t *testing.T) {
	clock := &fakeClock{current: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	recover := &stubProbe{}
	hookLogger, _ := logtest.NewNullLogger()

	var tracker *Tracker
	var injectFailure bool
	probe := func(context.Context) error {
		if injectFailure {
			injectFailure = false
			tracker.ReportFailure(errors.New("write failed"))
		}
		return nil
	}

	tracker = New(probe, recover.run, logrus.NewEntry(hookLogger), WithClock(clock.now))

	if !tracker.Ready(context.Background()) {
		t.Fatalf("expected initial probe to succeed")
	}
	if recover.calls != 1 {
		t.Fatalf("expected recovery hook once on first recovery, got %d", recover.calls)
	}

	// A write failure lands while the next probe is already in flight. The
	// healthy probe result must not flip the state up past it.
	injectFailure = true
	tracker.check(context.Background())

	if tracker.State() != StateDown {
		t.Fatalf("expected state to stay down after mid-probe failure")
	}
	if recover.calls != 1 {
		t.Fatalf("expected no recovery hook for the interrupted probe, got %d", recover.calls)
	}

	// The next clean probe performs the full recovery, hook included.
	clock.advance(DefaultCooldown)
	if !tracker.Ready(context.Background()) {
		t.Fatalf("expected Ready to recover on the next probe")
	}
	if tracker.State() != StateUp {
		t.Fatalf("expected state up after clean probe")
	}
	if recover.calls != 2 {
		t.Fatalf("expected recovery hook on the clean probe, got %d", recover.calls)
	}
}

func TestRunProbesUntilCanceled(t *testing.T) {
	clock := &fakeClock{current: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	probe := &stubProbe{}
	hookLogger, _ := logtest.NewNullLogger()

	tracker := New(probe.run, nil, logrus.NewEntry(hookLogger),
		WithClock(clock.now),
		WithProbeInterval(10*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tracker.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for tracker.State() != StateUp {
		select {
		case <-deadline:
			t.Fatalf("expected background probe to flip state up")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected Run to stop on cancellation")
	}

	if probe.calls == 0 {
		t.Fatalf("expected at least one probe call")
	}
}
