// Package subscription runs the goroutine that carries one channel's live
// batches to one user's sink.
package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/sink"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the lifecycle phase of a Task
type State int32

const (
	Starting State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Exit reasons recorded in metrics.SubscriptionExits
const (
	ExitCanceled      = "canceled"
	ExitChannelClosed = "channel_closed"
	ExitUserGone      = "user_gone"
	ExitSinkClosed    = "sink_closed"
)

// Feed is the ordered batch stream a task consumes.
// *events.Subscriber satisfies it.
type Feed interface {
	Next(ctx context.Context) (types.Batch, error)
	Close()
}

// SinkLookup resolves a user name to its current sink. Tasks hold only the
// name and look the sink up on every delivery.
type SinkLookup interface {
	Sink(name string) (sink.Sink, bool)
}

// Config describes a task
type Config struct {
	User  string
	Ref   types.ChannelRef
	Feed  Feed
	Sinks SinkLookup

	// OnError receives transient delivery failures. Optional.
	OnError func(t *Task, err error)
	// OnExit runs once after the task stops. Optional.
	OnExit func(t *Task)
}

// Task forwards batches from a Feed to a user's sink until it is canceled,
// the feed ends, or the user or sink goes away.
type Task struct {
	id    string
	user  string
	ref   types.ChannelRef
	feed  Feed
	sinks SinkLookup

	onError func(*Task, error)
	onExit  func(*Task)

	state    atomic.Int32
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	exitOnce sync.Once

	logger zerolog.Logger
}

// New creates a task in the Starting state. The feed must already be open.
func New(cfg Config) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()

	return &Task{
		id:      id,
		user:    cfg.User,
		ref:     cfg.Ref,
		feed:    cfg.Feed,
		sinks:   cfg.Sinks,
		onError: cfg.OnError,
		onExit:  cfg.OnExit,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger: log.WithSubscription(id).With().
			Str("user", cfg.User).
			Str("app", cfg.Ref.App).
			Str("channel", cfg.Ref.Channel).
			Logger(),
	}
}

// ID returns the task's unique id
func (t *Task) ID() string { return t.id }

// User returns the name of the user the task delivers to
func (t *Task) User() string { return t.user }

// Ref returns the channel the task consumes
func (t *Task) Ref() types.ChannelRef { return t.ref }

// State returns the current lifecycle phase
func (t *Task) State() State { return State(t.state.Load()) }

// Done is closed once the task has stopped
func (t *Task) Done() <-chan struct{} { return t.done }

// Start launches the delivery loop. It has no effect unless the task is
// still Starting.
func (t *Task) Start() {
	if !t.state.CompareAndSwap(int32(Starting), int32(Running)) {
		return
	}
	go t.run()
}

// Cancel requests the task to stop and returns immediately. A pending wait
// for the next batch is interrupted. Cancel is idempotent.
func (t *Task) Cancel() {
	t.cancel()
	if t.state.CompareAndSwap(int32(Starting), int32(Stopped)) {
		t.exit(ExitCanceled)
	}
}

func (t *Task) run() {
	t.logger.Debug().Msg("subscription started")
	t.exit(t.loop())
}

func (t *Task) loop() string {
	for {
		if t.ctx.Err() != nil {
			return ExitCanceled
		}
		batch, err := t.feed.Next(t.ctx)
		if err != nil {
			var lag *events.LagError
			switch {
			case errors.As(err, &lag):
				metrics.LaggedBatches.Add(float64(lag.Skipped))
				t.logger.Warn().Uint64("skipped", lag.Skipped).Msg("subscriber lagged")
				continue
			case errors.Is(err, events.ErrClosed):
				if t.ctx.Err() != nil {
					return ExitCanceled
				}
				return ExitChannelClosed
			default:
				return ExitCanceled
			}
		}

		s, ok := t.sinks.Sink(t.user)
		if !ok {
			return ExitUserGone
		}

		if err := s.Send(t.ctx, batch); err != nil {
			switch {
			case errors.Is(err, sink.ErrClosed):
				metrics.Deliveries.WithLabelValues(metrics.ResultSinkGone).Inc()
				return ExitSinkClosed
			case t.ctx.Err() != nil:
				return ExitCanceled
			default:
				metrics.Deliveries.WithLabelValues(metrics.ResultFailed).Inc()
				t.logger.Warn().Err(err).Int("events", len(batch)).Msg("delivery failed")
				if t.onError != nil {
					t.onError(t, err)
				}
				continue
			}
		}
		metrics.Deliveries.WithLabelValues(metrics.ResultDelivered).Inc()
	}
}

func (t *Task) exit(reason string) {
	t.exitOnce.Do(func() {
		t.state.Store(int32(Stopped))
		t.cancel()
		t.feed.Close()
		metrics.SubscriptionExits.WithLabelValues(reason).Inc()
		t.logger.Debug().Str("reason", reason).Msg("subscription stopped")

		close(t.done)
		if t.onExit != nil {
			t.onExit(t)
		}
	})
}
