package dimmer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lumirise/lumirise/internal/events"
)

// StateSource is the subset of Monitor the detector needs: a stream of
// observed DimmerState values.
type StateSource interface {
	StateChanges() (<-chan State, func())
}

// Detector compares each observed DimmerState against the executor's most
// recently commanded expected state and classifies divergence as a manual
// override, using a fixed ordered guard-level comparison chain.
type Detector struct {
	source StateSource

	mu       sync.Mutex
	expected *State
	enabled  bool

	cancel      context.CancelFunc
	unsubscribe func()
	runDone     chan struct{}

	interruptions *events.Broadcaster[InterruptionEvent]
}

// NewDetector returns a Detector observing source, initially disabled with
// no expected state set.
func NewDetector(source StateSource) *Detector {
	return &Detector{
		source:        source,
		interruptions: events.NewBroadcaster[InterruptionEvent](),
	}
}

// SetExpectedState updates the comparison baseline.
func (d *Detector) SetExpectedState(s State) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := s
	d.expected = &cp
}

// ClearExpectedState removes the comparison baseline; no classification
// fires while it is unset.
func (d *Detector) ClearExpectedState() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.expected = nil
}

// EnableDetection gates classification on. Detection only fires when
// enabled and an expected state is set.
func (d *Detector) EnableDetection() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = true
}

// DisableDetection gates classification off.
func (d *Detector) DisableDetection() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = false
}

// Report publishes a caller-classified interruption. The DeviceDisconnected
// and StatusConfirmationTimeout reasons cover conditions the detector cannot
// observe from DimmerState alone (connection loss, a command that was never
// confirmed), so the component watching for them injects the event here. The
// same enabled gate applies as for state-change classification, keeping late
// reports from leaking past an execution's teardown.
func (d *Detector) Report(reason InterruptionReason, message string) {
	d.mu.Lock()
	enabled := d.enabled
	var expected *State
	if d.expected != nil {
		cp := *d.expected
		expected = &cp
	}
	d.mu.Unlock()

	if !enabled {
		return
	}
	d.interruptions.Publish(InterruptionEvent{
		Reason:        reason,
		Expected:      expected,
		Message:       message,
		DetectedAtUTC: time.Now().UTC(),
	})
}

// Interruptions returns the lazy InterruptionEvent stream.
func (d *Detector) Interruptions() (<-chan InterruptionEvent, func()) {
	return d.interruptions.Subscribe()
}

// Start subscribes to the state source and begins classifying every
// observed change. Not idempotent; pair with Stop.
func (d *Detector) Start() {
	states, unsubscribe := d.source.StateChanges()
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.unsubscribe = unsubscribe
	d.runDone = make(chan struct{})
	go d.run(ctx, states, d.runDone)
}

// Stop ends the subscription.
func (d *Detector) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.unsubscribe != nil {
		d.unsubscribe()
	}
	if d.runDone != nil {
		<-d.runDone
	}
}

func (d *Detector) run(ctx context.Context, states <-chan State, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case actual, ok := <-states:
			if !ok {
				return
			}
			d.observe(actual)
		}
	}
}

// observe applies the fixed classification order under a fresh read of
// the expected state.
func (d *Detector) observe(actual State) {
	d.mu.Lock()
	enabled := d.enabled
	var expected State
	if d.expected != nil {
		expected = *d.expected
	}
	hasExpected := d.expected != nil
	d.mu.Unlock()

	if !enabled || !hasExpected {
		return
	}

	var reason InterruptionReason
	switch {
	case expected.IsOn && !actual.IsOn:
		reason = ManualPowerOff
	case expected.IsOn && actual.IsOn && absInt(expected.BrightnessPercent-actual.BrightnessPercent) > interruptionToleranceBand:
		reason = ManualBrightnessAdjustment
	case !expected.IsOn && actual.IsOn:
		reason = ManualPowerOn
	default:
		return
	}

	expCopy, actCopy := expected, actual
	d.interruptions.Publish(InterruptionEvent{
		Reason:        reason,
		Expected:      &expCopy,
		Actual:        &actCopy,
		Message:       fmt.Sprintf("expected %s, observed %s", describeState(expCopy), describeState(actCopy)),
		DetectedAtUTC: time.Now().UTC(),
	})
}

func describeState(s State) string {
	return fmt.Sprintf("{on:%t brightness:%d}", s.IsOn, s.BrightnessPercent)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
