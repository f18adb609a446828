package alarm

import (
	"context"
	"fmt"
	"time"

	"github.com/lumirise/lumirise/internal/dimmer"
	"github.com/lumirise/lumirise/internal/errs"
)

// Executor drives one Definition through one alarm firing: machine,
// publisher, and detector wired together with a scoped interruption
// subscription and strict teardown ordering.
type Executor struct {
	machine   *Machine
	publisher *dimmer.Publisher
	detector  *dimmer.Detector
}

// NewExecutor returns an Executor over the given (already-constructed)
// machine, publisher, and detector. The three are typically per-execution
// (machine) or process-wide singletons (publisher, detector) reused across
// executions.
func NewExecutor(machine *Machine, publisher *dimmer.Publisher, detector *dimmer.Detector) *Executor {
	return &Executor{machine: machine, publisher: publisher, detector: detector}
}

// Execute runs def to completion: power on, seed start brightness, ramp to
// target while keeping the detector's expected state calibrated, then
// resolve the terminal transition. The caller must already have fired
// SchedulerTrigger then Start so the machine is Running; otherwise Execute
// fails immediately with errs.ErrIllegalTransition and touches nothing.
func (e *Executor) Execute(ctx context.Context, def Definition) error {
	if e.machine.Current() != Running {
		return fmt.Errorf("alarm %s: execute: %w", def.ID, errs.ErrIllegalTransition)
	}

	start := def.StartBrightnessPercent
	target := def.TargetBrightnessPercent
	if def.IsConstantBrightness() {
		target = start
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	interruptions, unsubscribe := e.detector.Interruptions()
	interruptDone := make(chan struct{})
	go func() {
		defer close(interruptDone)
		for evt := range interruptions {
			e.machine.TryFire(ManualOverride, fmt.Sprintf("%s: %s", evt.Reason, evt.Message))
			// Stop the ramp promptly: once a manual override is observed, no
			// further brightness commands should reach the wire.
			cancelRun()
		}
	}()

	e.detector.SetExpectedState(dimmer.State{IsOn: true, BrightnessPercent: start})
	e.detector.EnableDetection()

	execErr := e.run(runCtx, start, target, def.ClampedRampDuration())

	switch {
	case execErr == nil:
		e.machine.TryFire(Complete, "")
	case ctx.Err() != nil:
		// The caller's own context was cancelled, not just our internal
		// interruption-triggered cancelRun.
		e.machine.TryFire(Error, "Execution cancelled")
	case runCtx.Err() != nil:
		// cancelRun fired from the interruption handler; ManualOverride has
		// already won the race for this Running->terminal edge, so this
		// TryFire is expected to be silently swallowed as a no-op.
		e.machine.TryFire(Error, "Execution cancelled")
	default:
		e.machine.TryFire(Error, execErr.Error())
	}

	// Dispose the subscription and drain its goroutine before gating
	// detection off: a late-arriving event must never outlive this
	// execution's teardown.
	unsubscribe()
	<-interruptDone
	e.detector.DisableDetection()
	e.detector.ClearExpectedState()

	return execErr
}

func (e *Executor) run(ctx context.Context, start, target int, rampDuration time.Duration) error {
	if err := e.publisher.TurnOn(ctx); err != nil {
		return err
	}
	if err := e.publisher.SetBrightness(ctx, start); err != nil {
		return err
	}
	progress := func(value int) {
		e.detector.SetExpectedState(dimmer.State{IsOn: true, BrightnessPercent: value})
	}
	return e.publisher.RampBrightness(ctx, start, target, rampDuration, progress)
}
