// Package mqttsup implements the MQTT connection supervisor: a durable
// session with jittered exponential backoff reconnection, subscription
// replay, and a bounded offline command queue.
package mqttsup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sony/gobreaker"

	"github.com/lumirise/lumirise/internal/errs"
	"github.com/lumirise/lumirise/internal/events"
)

// Supervisor owns exactly one MQTT client session; construct with
// NewSupervisor and call Connect to begin the convergence loop.
type Supervisor struct {
	cfg    Config
	client mqtt.Client

	connected           atomic.Bool
	disconnectRequested atomic.Bool
	disposed            atomic.Bool
	stopped             atomic.Bool
	attemptNumber       atomic.Int64

	mu            sync.Mutex
	running       bool
	subscriptions map[string]struct{}
	loopCancel    context.CancelFunc
	loopDone      chan struct{}
	drainDone     chan struct{}
	drainWake     chan struct{}

	queue      *offlineQueue
	breaker    *gobreaker.CircuitBreaker
	connStates *events.Broadcaster[ConnectionState]
	messages   *events.Broadcaster[Message]
}

// NewSupervisor builds a Supervisor for cfg. The returned supervisor is
// Disconnected until Connect is called.
func NewSupervisor(cfg Config) *Supervisor {
	cfg = cfg.withDefaults()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Server, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.CommandTimeout)
	opts.SetCleanSession(true)
	// The supervisor drives its own jittered-backoff convergence loop, so
	// paho's built-in retry machinery is disabled to avoid two competing
	// reconnect policies.
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	s := &Supervisor{
		cfg:           cfg,
		subscriptions: make(map[string]struct{}),
		queue:         newOfflineQueue(cfg.CommandQueueDepth),
		connStates:    events.NewBroadcaster[ConnectionState](),
		messages:      events.NewBroadcaster[Message](),
		drainWake:     make(chan struct{}, 1),
	}
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, m mqtt.Message) {
		s.messages.Publish(Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	s.client = mqtt.NewClient(opts)
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "mqtt-publish:" + cfg.ClientID,
		Interval: 0,
		Timeout:  cfg.MaxReconnectionDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return s
}

// Connect is idempotent. It begins the convergence loop in the background;
// it does not block until the session is up.
func (s *Supervisor) Connect() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.disconnectRequested.Store(false)
	s.disposed.Store(false)
	s.stopped.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})
	s.drainDone = make(chan struct{})
	loopDone, drainDone := s.loopDone, s.drainDone
	s.mu.Unlock()

	go s.runReconnectLoop(ctx, loopDone)
	go s.runDrainLoop(ctx, drainDone)
}

// Disconnect is idempotent. It stops the convergence loop, clears the
// offline queue, and issues a graceful disconnect.
func (s *Supervisor) Disconnect() {
	if !s.disconnectRequested.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	cancel := s.loopCancel
	loopDone, drainDone := s.loopDone, s.drainDone
	s.running = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	waitWithGrace(disposeGrace, loopDone, drainDone)

	s.queue.clear()
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.setConnected(false, nil)
}

// Dispose cancels all background work (waiting up to 10s), attempts a
// graceful disconnect, clears the queue, and closes every stream. Further
// use of the supervisor is undefined.
func (s *Supervisor) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	s.Disconnect()
	s.connStates.Close()
	s.messages.Close()
}

// IsConnected reports the current connection state.
func (s *Supervisor) IsConnected() bool {
	return s.connected.Load()
}

// Stopped reports whether the reconnect loop gave up after
// MaxReconnectionAttempts consecutive failures. A caller such as a health
// check can treat this as unhealthy; the supervisor itself never crashes
// the process over it. Connect clears it.
func (s *Supervisor) Stopped() bool {
	return s.stopped.Load()
}

// ConnectionStateChanges returns the lazy ConnectionState stream.
func (s *Supervisor) ConnectionStateChanges() (<-chan ConnectionState, func()) {
	return s.connStates.Subscribe()
}

// MessageReceived returns the lazy (topic, payload) stream for every
// subscribed topic.
func (s *Supervisor) MessageReceived() (<-chan Message, func()) {
	return s.messages.Subscribe()
}

// Subscribe records topic for replay across reconnects and, if currently
// connected, subscribes immediately. It fails with errs.ErrNotConnected
// when the session is down, but the subscription is recorded regardless so
// the next successful (re)connect picks it up.
func (s *Supervisor) Subscribe(topic string) error {
	s.mu.Lock()
	s.subscriptions[topic] = struct{}{}
	s.mu.Unlock()

	if !s.IsConnected() {
		return fmt.Errorf("subscribe %s: %w", topic, errs.ErrNotConnected)
	}
	return s.subscribeNow(topic)
}

func (s *Supervisor) subscribeNow(topic string) error {
	token := s.client.Subscribe(topic, 0, nil)
	if !token.WaitTimeout(s.cfg.CommandTimeout) {
		return fmt.Errorf("subscribe %s: %w", topic, errs.ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Publish sends payload to topic. When disconnected it both returns
// errs.ErrNotConnected and enqueues the pair into the bounded offline queue
// (dropped, with a log line, if the queue is full).
func (s *Supervisor) Publish(ctx context.Context, topic string, payload []byte) error {
	return s.publish(ctx, topic, payload, true)
}

func (s *Supervisor) publish(ctx context.Context, topic string, payload []byte, enqueueOnDisconnect bool) error {
	if !s.IsConnected() {
		if enqueueOnDisconnect {
			s.enqueue(topic, payload)
		}
		return fmt.Errorf("publish %s: %w", topic, errs.ErrNotConnected)
	}

	timeout := boundedTimeout(ctx, s.cfg.CommandTimeout)
	_, err := s.breaker.Execute(func() (any, error) {
		token := s.client.Publish(topic, 0, false, payload)
		if !token.WaitTimeout(timeout) {
			return nil, fmt.Errorf("publish %s: %w", topic, errs.ErrTimeout)
		}
		if tErr := token.Error(); tErr != nil {
			return nil, fmt.Errorf("publish %s: %w: %v", topic, errs.ErrTransientBroker, tErr)
		}
		return nil, nil
	})
	if err != nil {
		// An open breaker rejects before the broker is ever touched: that's
		// a fast-fail distinct from an actual connection loss, so it does
		// not flip IsConnected.
		if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.setConnected(false, err)
		}
		if enqueueOnDisconnect {
			s.enqueue(topic, payload)
		}
		return err
	}
	return nil
}

func (s *Supervisor) enqueue(topic string, payload []byte) {
	accepted := s.queue.enqueue(pendingCommand{topic: topic, payload: payload, enqueued: time.Now()})
	if !accepted {
		log.Printf("mqttsup: offline queue full (depth=%d), dropping publish to %s", s.cfg.CommandQueueDepth, topic)
	}
}

// setConnected updates the connected flag and publishes a ConnectionState
// event iff the observed state actually changed, or unconditionally for a
// connect-failure report (attemptNumber already reflects the failed try).
func (s *Supervisor) setConnected(connected bool, err error) {
	changed := s.connected.Swap(connected) != connected
	if !changed && err == nil {
		return
	}
	s.connStates.Publish(ConnectionState{
		IsConnected:   connected,
		AttemptNumber: int(s.attemptNumber.Load()),
		LastError:     err,
		UpdatedAtUTC:  time.Now().UTC(),
	})
}

func boundedTimeout(ctx context.Context, d time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if remain := time.Until(dl); remain < d {
			if remain < 0 {
				return 0
			}
			return remain
		}
	}
	return d
}

func waitWithGrace(grace time.Duration, dones ...chan struct{}) {
	deadline := time.After(grace)
	for _, done := range dones {
		if done == nil {
			continue
		}
		select {
		case <-done:
		case <-deadline:
			return
		}
	}
}
