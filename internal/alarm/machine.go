package alarm

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumirise/lumirise/internal/errs"
	"github.com/lumirise/lumirise/internal/events"
)

// transitionKey identifies one (from-state, trigger) pair in the table.
type transitionKey struct {
	from    State
	trigger Trigger
}

// transitionTable is the legal-transition table. Omitted pairs are illegal.
var transitionTable = map[transitionKey]State{
	{Idle, SchedulerTrigger}:  Triggered,
	{Idle, Pause}:             Paused,
	{Triggered, Start}:        Running,
	{Triggered, Cancel}:       Idle,
	{Running, ManualOverride}: Interrupted,
	{Running, Complete}:       Completed,
	{Running, Error}:          Failed,
	{Interrupted, Reset}:      Idle,
	{Completed, Reset}:        Idle,
	{Failed, Reset}:           Idle,
	{Paused, Resume}:          Idle,
}

// Machine enforces legality of lifecycle transitions for one alarm and
// publishes every successful transition. Safe for concurrent use.
type Machine struct {
	alarmID uuid.UUID

	mu       sync.Mutex
	current  State
	disposed bool

	transitions *events.Broadcaster[Transition]
}

// NewMachine returns a machine for alarmID, starting in Idle.
func NewMachine(alarmID uuid.UUID) *Machine {
	return &Machine{
		alarmID:     alarmID,
		current:     Idle,
		transitions: events.NewBroadcaster[Transition](),
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// CanFire is a pure lookup: would Fire(trigger, ...) succeed right now.
func (m *Machine) CanFire(trigger Trigger) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := transitionTable[transitionKey{m.current, trigger}]
	return ok
}

// PermittedTriggers returns every trigger legal from the current state.
func (m *Machine) PermittedTriggers() []Trigger {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	var out []Trigger
	for k := range transitionTable {
		if k.from == current {
			out = append(out, k.trigger)
		}
	}
	return out
}

// StateTransitions returns the lazy transition stream and its unsubscribe func.
func (m *Machine) StateTransitions() (<-chan Transition, func()) {
	return m.transitions.Subscribe()
}

// Fire attempts trigger against the current state. On success it
// transitions atomically, emits exactly one Transition, and returns the new
// state. On failure it leaves the state unchanged and returns
// errs.ErrIllegalTransition.
func (m *Machine) Fire(trigger Trigger, message string) (State, error) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return Idle, fmt.Errorf("alarm %s: fire %s: %w", m.alarmID, trigger, errs.ErrObjectDisposed)
	}

	from := m.current
	to, ok := transitionTable[transitionKey{from, trigger}]
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("alarm %s: %s -> (%s): %w", m.alarmID, from, trigger, errs.ErrIllegalTransition)
	}
	m.current = to
	m.mu.Unlock()

	m.transitions.Publish(Transition{
		AlarmID:       m.alarmID,
		PreviousState: from,
		NewState:      to,
		Trigger:       trigger,
		TimestampUTC:  time.Now().UTC(),
		Message:       message,
	})
	return to, nil
}

// TryFire is Fire, but an illegal transition is logged at warning level and
// swallowed instead of returned. This is what the executor uses internally
// so a ManualOverride and a Complete racing for the same Running->terminal
// edge never turns into a caller-visible error for the loser.
func (m *Machine) TryFire(trigger Trigger, message string) State {
	state, err := m.Fire(trigger, message)
	if err != nil {
		current := m.Current()
		log.Printf("alarm %s: WARN: TryFire(%s) ignored: %v (still %s)", m.alarmID, trigger, err, current)
		return current
	}
	return state
}

// Dispose closes the transition stream; every subsequent Fire fails with
// errs.ErrObjectDisposed.
func (m *Machine) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	m.mu.Unlock()
	m.transitions.Close()
}
