// Package sink defines the delivery target a user's subscriptions push to,
// and Mailbox, the buffered sink the HTTP transport streams from.
package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultMailboxSize is the number of batches a Mailbox buffers.
const DefaultMailboxSize = 256

var (
	// ErrClosed means the sink is permanently gone. A subscription that
	// gets it stops.
	ErrClosed = fmt.Errorf("sink closed: %w", errdefs.ErrUnavailable)

	// ErrFull means a single delivery was dropped because the sink could
	// not take it right now. Subscriptions tolerate it.
	ErrFull = fmt.Errorf("sink full: %w", errdefs.ErrResourceExhausted)

	// ErrAttached is returned when a second reader tries to attach to a Mailbox.
	ErrAttached = fmt.Errorf("mailbox already has a reader: %w", errdefs.ErrAlreadyExists)
)

// Sink receives batches on behalf of one user.
// Send must not block indefinitely and should honour ctx.
type Sink interface {
	Send(ctx context.Context, batch types.Batch) error
	Close() error
}

// Func adapts a function to the Sink interface. Close is a no-op.
type Func func(ctx context.Context, batch types.Batch) error

func (f Func) Send(ctx context.Context, batch types.Batch) error { return f(ctx, batch) }

func (f Func) Close() error { return nil }

// Mailbox is a bounded, non-blocking Sink drained by a single reader.
type Mailbox struct {
	mu       sync.Mutex
	queue    chan types.Batch
	done     chan struct{}
	closed   bool
	attached bool
}

// NewMailbox creates a mailbox buffering up to size batches
func NewMailbox(size int) *Mailbox {
	if size <= 0 {
		size = DefaultMailboxSize
	}
	return &Mailbox{
		queue: make(chan types.Batch, size),
		done:  make(chan struct{}),
	}
}

// Send enqueues batch without blocking. It returns ErrFull when the buffer
// is full and ErrClosed once the mailbox is closed.
func (m *Mailbox) Send(ctx context.Context, batch types.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case m.queue <- batch:
		return nil
	default:
		return ErrFull
	}
}

// Close marks the mailbox closed. Batches already buffered can still be
// read with Next. Close is idempotent.
func (m *Mailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// Next returns the next buffered batch, blocking until one arrives, the
// mailbox is closed and empty (ErrClosed), or ctx is done.
func (m *Mailbox) Next(ctx context.Context) (types.Batch, error) {
	select {
	case b := <-m.queue:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		select {
		case b := <-m.queue:
			return b, nil
		default:
			return nil, ErrClosed
		}
	}
}

// Attach reserves the mailbox for one reader. The returned function
// releases it.
func (m *Mailbox) Attach() (release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attached {
		return nil, ErrAttached
	}
	m.attached = true

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.attached = false
			m.mu.Unlock()
		})
	}, nil
}

// Done is closed when the mailbox is closed
func (m *Mailbox) Done() <-chan struct{} {
	return m.done
}

// Len returns the number of buffered batches
func (m *Mailbox) Len() int {
	return len(m.queue)
}
