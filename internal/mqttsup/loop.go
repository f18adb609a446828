package mqttsup

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lumirise/lumirise/internal/errs"
)

// runReconnectLoop is the supervisor's single background task. It ticks at
// cfg.tickInterval() while idle or connected (to run the ping-equivalent
// liveness check), and switches to the jittered exponential backoff delay
// between connect attempts while down. It never panics or exits the process
// on sustained failure; once MaxReconnectionAttempts consecutive failures
// are reached (if bounded) it logs and stops, leaving IsConnected false.
func (s *Supervisor) runReconnectLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.ReconnectionDelay
	bo.MaxInterval = s.cfg.MaxReconnectionDelay
	bo.Multiplier = s.cfg.BackoffMultiplier
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0

	failures := 0
	wait := time.Duration(0)

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if s.disconnectRequested.Load() {
			wait = s.cfg.tickInterval()
			continue
		}

		if s.client.IsConnectionOpen() {
			// paho owns the wire-level PINGREQ/PINGRESP exchange; treating
			// IsConnectionOpen as the liveness probe avoids a second,
			// competing keepalive mechanism.
			s.setConnected(true, nil)
			wait = s.cfg.tickInterval()
			continue
		}

		attempt := int(s.attemptNumber.Add(1))
		token := s.client.Connect()
		ok := token.WaitTimeout(s.cfg.CommandTimeout)
		if ok && token.Error() == nil {
			failures = 0
			bo.Reset()
			s.onConnected(attempt)
			wait = s.cfg.tickInterval()
			continue
		}

		err := token.Error()
		if err == nil {
			err = errs.ErrTimeout
		}
		failures++
		s.setConnected(false, err)
		log.Printf("mqttsup: connect attempt %d failed: %v", attempt, err)

		if s.cfg.MaxReconnectionAttempts > 0 && failures >= s.cfg.MaxReconnectionAttempts {
			log.Printf("mqttsup: ERROR: giving up after %d consecutive failed connect attempts", failures)
			s.stopped.Store(true)
			// Release the running flag and stop the drain task so a later
			// Connect starts both loops afresh.
			s.mu.Lock()
			s.running = false
			stopLoops := s.loopCancel
			s.mu.Unlock()
			stopLoops()
			return
		}
		wait = bo.NextBackOff()
		if wait == backoff.Stop {
			wait = s.cfg.MaxReconnectionDelay
		}
	}
}

// onConnected replays every recorded subscription ahead of waking the
// drain task, so queued commands never race ahead of missing subscriptions.
func (s *Supervisor) onConnected(attempt int) {
	s.mu.Lock()
	topics := make([]string, 0, len(s.subscriptions))
	for topic := range s.subscriptions {
		topics = append(topics, topic)
	}
	s.mu.Unlock()

	for _, topic := range topics {
		if err := s.subscribeNow(topic); err != nil {
			log.Printf("mqttsup: resubscribe %s failed: %v", topic, err)
		}
	}

	s.setConnected(true, nil)
	s.wakeDrain()
}

func (s *Supervisor) wakeDrain() {
	select {
	case s.drainWake <- struct{}{}:
	default:
	}
}

// runDrainLoop empties the offline queue in FIFO order whenever woken by a
// successful (re)connect. A transient publish failure re-enqueues the
// current entry and suspends draining until the next wake or tick; the
// periodic tick exists because an open circuit breaker can reject publishes
// while the TCP session stays up, a state no reconnect event will ever wake
// the drain task from.
func (s *Supervisor) runDrainLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.tickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.drainWake:
		case <-ticker.C:
		}
		s.drainOnce(ctx)
	}
}

func (s *Supervisor) drainOnce(ctx context.Context) {
	for s.IsConnected() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		cmd, ok := s.queue.dequeue()
		if !ok {
			return
		}
		if err := s.publish(ctx, cmd.topic, cmd.payload, false); err != nil {
			log.Printf("mqttsup: drain publish to %s failed, requeued: %v", cmd.topic, err)
			s.queue.requeueFront(cmd)
			return
		}
	}
}
