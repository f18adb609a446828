package alarm

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumirise/lumirise/internal/dimmer"
	"github.com/lumirise/lumirise/internal/errs"
)

// DefinitionSource resolves an alarm id to its frozen Definition. The
// relational persistence behind it is owned by the caller; the service only
// consumes the resolved value. found is false when no alarm with that id
// exists.
type DefinitionSource interface {
	Load(ctx context.Context, id uuid.UUID) (def Definition, found bool, err error)
}

// StatusSource is the subset of dimmer.Monitor the service's confirmation
// watchdog needs.
type StatusSource interface {
	CurrentState() (dimmer.State, bool)
}

// DefaultStatusConfirmationTimeout bounds how long the service waits for the
// monitor to confirm the device powered on before reporting a
// StatusConfirmationTimeout interruption.
const DefaultStatusConfirmationTimeout = 10 * time.Second

// ServiceConfig carries the service tunables. A zero
// StatusConfirmationTimeout means the default; a negative one disables the
// confirmation watchdog entirely.
type ServiceConfig struct {
	StatusConfirmationTimeout time.Duration
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.StatusConfirmationTimeout == 0 {
		c.StatusConfirmationTimeout = DefaultStatusConfirmationTimeout
	}
	return c
}

// ServiceDeps bundles the collaborators a Service composes per execution.
// Monitor and OnTransition are optional: without a Monitor the confirmation
// watchdog is off, and OnTransition (e.g. history.Recorder.RecordTransition)
// mirrors every machine transition for audit.
type ServiceDeps struct {
	Definitions  DefinitionSource
	Publisher    *dimmer.Publisher
	Detector     *dimmer.Detector
	Monitor      StatusSource
	OnTransition func(Transition)
}

// Service is the Execute(alarmId) entry point the scheduling layer calls.
// It owns the per-execution Machine: load the definition, fire
// SchedulerTrigger then Start, run the Executor composition, dispose the
// machine on return. A per-id lease rejects concurrent invocations for the
// same alarm.
type Service struct {
	cfg  ServiceConfig
	deps ServiceDeps

	mu     sync.Mutex
	leases map[uuid.UUID]struct{}
}

// NewService returns a Service over deps.
func NewService(cfg ServiceConfig, deps ServiceDeps) *Service {
	return &Service{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		leases: make(map[uuid.UUID]struct{}),
	}
}

// Execute loads the alarm by id and runs it end to end. A missing or
// disabled alarm returns nil with no state change. A second Execute for the
// same id while one is in flight fails with errs.ErrInvalidArgument.
func (s *Service) Execute(ctx context.Context, id uuid.UUID) error {
	if !s.acquire(id) {
		return fmt.Errorf("alarm %s: execution already in flight: %w", id, errs.ErrInvalidArgument)
	}
	defer s.release(id)

	def, found, err := s.deps.Definitions.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("alarm %s: load: %w", id, err)
	}
	if !found {
		log.Printf("alarm %s: not found, skipping execution", id)
		return nil
	}
	if !def.Enabled {
		log.Printf("alarm %s (%s): disabled, skipping execution", id, def.Name)
		return nil
	}

	machine := NewMachine(id)
	defer machine.Dispose()

	if s.deps.OnTransition != nil {
		transitions, unsubscribe := machine.StateTransitions()
		mirrorDone := make(chan struct{})
		go func() {
			defer close(mirrorDone)
			for tr := range transitions {
				s.deps.OnTransition(tr)
			}
		}()
		defer func() {
			unsubscribe()
			<-mirrorDone
		}()
	}

	if _, err := machine.Fire(SchedulerTrigger, ""); err != nil {
		return err
	}
	if _, err := machine.Fire(Start, ""); err != nil {
		return err
	}

	stopWatch := s.startConfirmationWatch()
	defer stopWatch()

	return NewExecutor(machine, s.deps.Publisher, s.deps.Detector).Execute(ctx, def)
}

// startConfirmationWatch arms a one-shot watchdog: if the monitor has not
// observed the device powered on by the deadline, a
// StatusConfirmationTimeout interruption is reported through the detector,
// which routes it into the running execution's ManualOverride path.
func (s *Service) startConfirmationWatch() (stop func()) {
	if s.deps.Monitor == nil || s.cfg.StatusConfirmationTimeout <= 0 {
		return func() {}
	}
	timer := time.AfterFunc(s.cfg.StatusConfirmationTimeout, func() {
		if st, ok := s.deps.Monitor.CurrentState(); ok && st.IsOn {
			return
		}
		s.deps.Detector.Report(dimmer.StatusConfirmationTimeout,
			fmt.Sprintf("device did not confirm power-on within %s", s.cfg.StatusConfirmationTimeout))
	})
	return func() { timer.Stop() }
}

func (s *Service) acquire(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.leases[id]; held {
		return false
	}
	s.leases[id] = struct{}{}
	return true
}

func (s *Service) release(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leases, id)
}
