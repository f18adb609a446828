// Package alarm implements the alarm lifecycle state machine and the
// executor that drives one alarm trigger through a dimmer ramp.
package alarm

import (
	"time"

	"github.com/google/uuid"
)

// Default tunables for an AlarmDefinition, applied by NewDefinition.
const (
	DefaultStartBrightnessPercent  = 20
	DefaultTargetBrightnessPercent = 100
	DefaultRampDuration            = 30 * time.Minute

	minRampDuration = 1 * time.Second
	maxRampDuration = 24 * time.Hour
)

// Definition is the frozen input to one alarm execution. It is a value:
// once handed to Execute, nothing mutates it.
type Definition struct {
	ID                      uuid.UUID
	Name                    string
	Enabled                 bool
	StartBrightnessPercent  int
	TargetBrightnessPercent int
	RampDuration            time.Duration
	TimeZoneID              string // used by the scheduler only, never read by the executor
}

// NewDefinition fills in the documented defaults. It does not clamp
// RampDuration; the executor reads it through ClampedRampDuration.
func NewDefinition(id uuid.UUID, name string) Definition {
	return Definition{
		ID:                      id,
		Name:                    name,
		Enabled:                 true,
		StartBrightnessPercent:  DefaultStartBrightnessPercent,
		TargetBrightnessPercent: DefaultTargetBrightnessPercent,
		RampDuration:            DefaultRampDuration,
	}
}

// ClampedRampDuration returns RampDuration clamped to the legal [1s, 24h]
// window, the invariant the executor must honor.
func (d Definition) ClampedRampDuration() time.Duration {
	switch {
	case d.RampDuration < minRampDuration:
		return minRampDuration
	case d.RampDuration > maxRampDuration:
		return maxRampDuration
	default:
		return d.RampDuration
	}
}

// IsConstantBrightness reports whether start > target, in which case the
// executor treats this as a constant-brightness segment instead of a
// downward ramp.
func (d Definition) IsConstantBrightness() bool {
	return d.StartBrightnessPercent > d.TargetBrightnessPercent
}

// State is the tagged variant of an alarm's lifecycle position.
type State int

const (
	Idle State = iota
	Triggered
	Running
	Paused
	Completed
	Interrupted
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Triggered:
		return "Triggered"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Completed:
		return "Completed"
	case Interrupted:
		return "Interrupted"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is terminal-until-Reset.
func (s State) Terminal() bool {
	return s == Completed || s == Interrupted || s == Failed
}

// Trigger is the tagged variant of inputs that drive the state machine.
type Trigger int

const (
	SchedulerTrigger Trigger = iota
	Start
	Cancel
	ManualOverride
	Complete
	Error
	Reset
	Pause
	Resume
)

func (t Trigger) String() string {
	switch t {
	case SchedulerTrigger:
		return "SchedulerTrigger"
	case Start:
		return "Start"
	case Cancel:
		return "Cancel"
	case ManualOverride:
		return "ManualOverride"
	case Complete:
		return "Complete"
	case Error:
		return "Error"
	case Reset:
		return "Reset"
	case Pause:
		return "Pause"
	case Resume:
		return "Resume"
	default:
		return "Unknown"
	}
}

// Transition is the event emitted every time a machine's state changes.
type Transition struct {
	AlarmID       uuid.UUID
	PreviousState State
	NewState      State
	Trigger       Trigger
	TimestampUTC  time.Time
	Message       string
}
