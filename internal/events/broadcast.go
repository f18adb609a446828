// Package events implements a lazy, non-replaying multicast stream used
// throughout lumirise for state-change, connection, interruption, and
// transition events: bounded fan-out channels with one receiver per
// subscriber, behind a mutex-guarded subscriber list.
package events

import "sync"

// subscriberBuffer bounds how far a slow subscriber can lag before it starts
// missing events; streams are not meant to be a durable log.
const subscriberBuffer = 32

// Broadcaster fans a sequence of values of type T out to any number of
// subscribers. It never replays past values to a new subscriber, and it
// never blocks a producer on a slow consumer: a subscriber that can't keep
// up silently drops the oldest buffered value, not the newest.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	closed bool
}

// NewBroadcaster returns a ready-to-use, empty broadcaster.
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function. The channel is closed when the broadcaster is
// closed or when Unsubscribe is called.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

// Publish delivers v to every current subscriber. A subscriber whose buffer
// is full has its oldest pending value dropped to make room; Publish never
// blocks.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Close completes the stream: every subscriber channel is closed and no
// further Publish has any effect. Close is idempotent.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
