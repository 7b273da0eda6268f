package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cuemby/burrow/pkg/types"
)

// DefaultCapacity is the number of batches retained for subscribers
const DefaultCapacity = 512

// ErrClosed is returned by Subscriber.Next once the broker is closed and the
// subscriber has consumed everything retained for it, or after the
// subscriber itself was closed.
var ErrClosed = errors.New("broker closed")

// LagError reports that a subscriber fell behind the retained window and
// Skipped batches were dropped from its stream. The subscriber remains
// usable; the next call to Next resumes according to the broker's LagPolicy.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("subscriber lagged: %d batches skipped", e.Skipped)
}

// LagPolicy decides where a lagging subscriber resumes
type LagPolicy string

const (
	// SkipToOldest resumes at the oldest batch still retained
	SkipToOldest LagPolicy = "oldest"
	// SkipToLatest drops the whole backlog and resumes with the next publish
	SkipToLatest LagPolicy = "latest"
)

// ParseLagPolicy validates a policy name. The empty string selects SkipToOldest.
func ParseLagPolicy(s string) (LagPolicy, error) {
	switch LagPolicy(s) {
	case "", SkipToOldest:
		return SkipToOldest, nil
	case SkipToLatest:
		return SkipToLatest, nil
	default:
		return "", fmt.Errorf("unknown lag policy %q (want %q or %q)", s, SkipToOldest, SkipToLatest)
	}
}

// Broker fans batches out to subscribers through a bounded ring buffer.
//
// Publish is called by a single producer and never waits for subscribers.
// Each Subscriber owns its cursor into the ring; a subscriber that falls
// more than the ring capacity behind loses the overwritten batches.
type Broker struct {
	mu     sync.RWMutex
	ring   []types.Batch
	head   uint64 // sequence number of the next batch to publish
	notify chan struct{}
	closed bool
	policy LagPolicy

	subscribers atomic.Int64
}

// NewBroker creates a broker retaining capacity batches
func NewBroker(capacity int, policy LagPolicy) *Broker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if policy == "" {
		policy = SkipToOldest
	}
	return &Broker{
		ring:   make([]types.Batch, capacity),
		notify: make(chan struct{}),
		policy: policy,
	}
}

// Publish stores batch in the ring and wakes every waiting subscriber.
// It returns the number of open subscribers at the time of publishing.
// Publishing to a closed broker is a no-op.
func (b *Broker) Publish(batch types.Batch) int {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}
	b.ring[b.head%uint64(len(b.ring))] = batch
	b.head++
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()

	return int(b.subscribers.Load())
}

// Subscribe opens a subscriber positioned after the most recent batch:
// it only observes batches published from now on.
func (b *Broker) Subscribe() *Subscriber {
	b.mu.RLock()
	next := b.head
	b.mu.RUnlock()

	b.subscribers.Add(1)
	return &Subscriber{broker: b, next: next}
}

// Close stops the broker. Subscribers drain the batches still retained for
// them and then receive ErrClosed. Close is idempotent.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

// SubscriberCount returns the number of open subscribers
func (b *Broker) SubscriberCount() int {
	return int(b.subscribers.Load())
}

// Capacity returns the number of batches the ring retains
func (b *Broker) Capacity() int {
	return len(b.ring)
}

// Subscriber is an independent cursor into a Broker.
// A Subscriber must be used by a single goroutine.
type Subscriber struct {
	broker *Broker
	next   uint64
	closed atomic.Bool
}

// Next returns the next batch in publish order. It blocks until a batch is
// available, the broker is closed, or ctx is done.
//
// If the subscriber fell behind the retained window Next returns a
// *LagError and repositions the cursor; callers should log it and call
// Next again.
func (s *Subscriber) Next(ctx context.Context) (types.Batch, error) {
	b := s.broker
	for {
		if s.closed.Load() {
			return nil, ErrClosed
		}

		b.mu.RLock()
		capacity := uint64(len(b.ring))
		head := b.head

		if head-s.next > capacity {
			var skipped uint64
			if b.policy == SkipToLatest {
				skipped = head - s.next
				s.next = head
			} else {
				oldest := head - capacity
				skipped = oldest - s.next
				s.next = oldest
			}
			b.mu.RUnlock()
			return nil, &LagError{Skipped: skipped}
		}

		if s.next < head {
			batch := b.ring[s.next%capacity]
			s.next++
			b.mu.RUnlock()
			return batch, nil
		}

		if b.closed {
			b.mu.RUnlock()
			return nil, ErrClosed
		}
		wait := b.notify
		b.mu.RUnlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Pending returns how many published batches the subscriber has not
// consumed yet, including ones it has already lost to lag.
func (s *Subscriber) Pending() uint64 {
	s.broker.mu.RLock()
	defer s.broker.mu.RUnlock()
	return s.broker.head - s.next
}

// Close releases the subscriber. Subsequent calls to Next return ErrClosed.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.broker.subscribers.Add(-1)
	}
}
