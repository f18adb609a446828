package dimmer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lumirise/lumirise/internal/errs"
	"github.com/lumirise/lumirise/internal/events"
	"github.com/lumirise/lumirise/internal/mqttsup"
)

// Broker is the subset of Supervisor the monitor and publisher need. A
// *mqttsup.Supervisor satisfies it.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string) error
	MessageReceived() (<-chan mqttsup.Message, func())
}

// resultPayload is the JSON dialect on the brightness status topic. Pointer
// fields distinguish "absent" from the zero value, since both fields are
// required and a missing one must discard the message rather than zero it.
type resultPayload struct {
	POWER  *string `json:"POWER"`
	Dimmer *int    `json:"Dimmer"`
}

// Monitor translates raw MQTT messages on the two status topics into a
// stream of DimmerState values and keeps the latest cached state.
type Monitor struct {
	cfg    Config
	broker Broker

	mu       sync.Mutex
	current  State
	hasState bool

	cancel      context.CancelFunc
	unsubscribe func()
	runDone     chan struct{}

	changes *events.Broadcaster[State]
}

// NewMonitor returns a Monitor for cfg, not yet subscribed.
func NewMonitor(cfg Config, broker Broker) *Monitor {
	return &Monitor{
		cfg:     cfg.withDefaults(),
		broker:  broker,
		changes: events.NewBroadcaster[State](),
	}
}

// Start subscribes to the two status topics and begins dispatching
// received messages. Start is not idempotent; calling it twice without an
// intervening Stop leaks a goroutine.
func (m *Monitor) Start() error {
	if err := m.broker.Subscribe(m.cfg.Topics.PowerStatus); err != nil {
		return err
	}
	if err := m.broker.Subscribe(m.cfg.Topics.BrightnessStatus); err != nil {
		return err
	}

	msgs, unsubscribe := m.broker.MessageReceived()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.unsubscribe = unsubscribe
	m.runDone = make(chan struct{})
	go m.run(ctx, msgs, m.runDone)
	return nil
}

// Stop ends the dispatch loop and releases the MessageReceived subscription.
// It does not unsubscribe the broker-level MQTT topics: Broker has no
// unsubscribe operation, so the supervisor keeps them in its
// resubscribe-on-reconnect set.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.runDone != nil {
		<-m.runDone
	}
}

// CurrentState returns the latest cached state; ok is false before any
// valid message has been observed.
func (m *Monitor) CurrentState() (state State, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.hasState
}

// StateChanges returns the lazy stream of DimmerState values, emitted only
// when (IsOn, BrightnessPercent) actually changes.
func (m *Monitor) StateChanges() (<-chan State, func()) {
	return m.changes.Subscribe()
}

func (m *Monitor) run(ctx context.Context, msgs <-chan mqttsup.Message, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			m.dispatch(msg)
		}
	}
}

func (m *Monitor) dispatch(msg mqttsup.Message) {
	switch msg.Topic {
	case m.cfg.Topics.PowerStatus:
		m.handlePower(msg.Payload)
	case m.cfg.Topics.BrightnessStatus:
		m.handleResult(msg.Payload)
	}
}

// handlePower handles the power-topic dialect: plain-text, case-insensitive
// ON/anything-else, with brightness synthesis on a fresh ON.
func (m *Monitor) handlePower(payload []byte) {
	text := strings.ToUpper(strings.TrimSpace(string(payload)))
	isOn := text == "ON"

	brightness := 0
	if isOn {
		if prior, ok := m.priorBrightness(); ok {
			brightness = prior
		} else {
			brightness = defaultFreshBrightnessPercent
		}
	}
	m.apply(State{IsOn: isOn, BrightnessPercent: brightness, UpdatedAtUTC: time.Now().UTC()})
}

// handleResult handles the result-topic dialect: JSON with required POWER
// and Dimmer fields. A malformed or incomplete payload is logged and
// discarded without touching cached state.
func (m *Monitor) handleResult(payload []byte) {
	var p resultPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("dimmer: WARN: %v: %v", fmt.Errorf("%w: malformed result payload", errs.ErrParseFailure), err)
		return
	}
	if p.POWER == nil || p.Dimmer == nil {
		log.Printf("dimmer: WARN: %v: missing POWER/Dimmer field", errs.ErrParseFailure)
		return
	}
	brightness := *p.Dimmer
	if brightness < 0 {
		brightness = 0
	} else if brightness > 100 {
		brightness = 100
	}
	isOn := strings.EqualFold(*p.POWER, "ON")
	m.apply(State{IsOn: isOn, BrightnessPercent: brightness, UpdatedAtUTC: time.Now().UTC()})
}

func (m *Monitor) priorBrightness() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasState {
		return 0, false
	}
	return m.current.BrightnessPercent, true
}

func (m *Monitor) apply(next State) {
	m.mu.Lock()
	changed := !m.hasState || !m.current.Equal(next)
	m.current = next
	m.hasState = true
	m.mu.Unlock()

	if changed {
		m.changes.Publish(next)
	}
}
