// Package channel implements the per-channel event engine: a bounded
// ingestion queue drained by one worker goroutine that appends every batch
// to the channel's event log and republishes it to live subscribers.
package channel

import (
	"errors"
	"fmt"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/eventlog"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultQueueSize is the number of batches waiting for the worker before
// Publish starts rejecting.
const DefaultQueueSize = 512

var (
	// ErrBackpressure is returned when the ingestion queue is full.
	// Callers should retry with backoff or drop the batch.
	ErrBackpressure = fmt.Errorf("ingestion queue full: %w", errdefs.ErrResourceExhausted)

	// ErrClosed is returned by operations on an engine that has been closed.
	ErrClosed = errors.New("channel engine closed")
)

// Config sizes an engine's buffers
type Config struct {
	QueueSize  int
	BufferSize int
	LagPolicy  events.LagPolicy
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		QueueSize:  DefaultQueueSize,
		BufferSize: events.DefaultCapacity,
		LagPolicy:  events.SkipToOldest,
	}
}

// Stats describes the current state of an engine
type Stats struct {
	Queued      int
	Events      int
	Subscribers int
}

// Engine owns one channel's event log, ingestion queue and broker.
type Engine struct {
	ref    types.ChannelRef
	log    *eventlog.Log
	broker *events.Broker
	queue  chan types.Batch

	// mu orders Publish against Close so nothing is sent on a closed queue.
	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}

	logger zerolog.Logger
}

// NewEngine creates an engine for ref. Call Start to run its worker.
func NewEngine(ref types.ChannelRef, cfg Config) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Engine{
		ref:    ref,
		log:    eventlog.New(),
		broker: events.NewBroker(cfg.BufferSize, cfg.LagPolicy),
		queue:  make(chan types.Batch, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: log.WithChannel(ref.App, ref.Channel),
	}
}

// Start launches the worker goroutine. Calling Start more than once is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started || e.closed {
		return
	}
	e.started = true
	go e.run()
}

// Ref returns the channel this engine serves
func (e *Engine) Ref() types.ChannelRef {
	return e.ref
}

// Publish enqueues batch for ordering and fan-out. It never blocks: a full
// queue yields ErrBackpressure and a closed engine ErrClosed.
// The engine keeps its own copy of batch.
func (e *Engine) Publish(batch types.Batch) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		metrics.PublishRejected.WithLabelValues(metrics.ReasonClosed).Inc()
		return ErrClosed
	}
	if len(batch) == 0 {
		return nil
	}

	select {
	case e.queue <- batch.Clone():
		return nil
	default:
		metrics.PublishRejected.WithLabelValues(metrics.ReasonBackpressure).Inc()
		return ErrBackpressure
	}
}

// Snapshot returns every event appended to the channel so far
func (e *Engine) Snapshot() []types.Event {
	return e.log.Snapshot()
}

// Subscribe opens a feed of batches published from now on
func (e *Engine) Subscribe() (*events.Subscriber, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrClosed
	}
	return e.broker.Subscribe(), nil
}

// Stats returns queue depth, log length and subscriber count
func (e *Engine) Stats() Stats {
	return Stats{
		Queued:      len(e.queue),
		Events:      e.log.Len(),
		Subscribers: e.broker.SubscriberCount(),
	}
}

// Close stops accepting batches, waits for the worker to apply everything
// already queued, then closes the broker so every subscriber feed ends.
// Close is idempotent and safe to call on an engine that was never started.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	close(e.queue)
	started := e.started
	e.mu.Unlock()

	if !started {
		e.drain()
		close(e.done)
		return
	}
	<-e.done
}

// Done is closed once the engine has fully stopped
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) run() {
	e.logger.Debug().Msg("channel engine started")
	e.drain()
	e.logger.Debug().Int("events", e.log.Len()).Msg("channel engine stopped")
	close(e.done)
}

// drain applies queued batches in arrival order until the queue is closed,
// then closes the broker.
func (e *Engine) drain() {
	for batch := range e.queue {
		e.log.Append(batch)
		subscribers := e.broker.Publish(batch)

		metrics.BatchesPublished.Inc()
		metrics.EventsPublished.Add(float64(len(batch)))
		e.logger.Debug().
			Int("events", len(batch)).
			Int("subscribers", subscribers).
			Msg("batch applied")
	}
	e.broker.Close()
}
