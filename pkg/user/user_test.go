package user

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/sink"
	"github.com/cuemby/burrow/pkg/subscription"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var c1 = types.ChannelRef{App: "a1", Channel: "c1"}

func opener(b *events.Broker) FeedOpener {
	return func() (subscription.Feed, error) {
		return b.Subscribe(), nil
	}
}

func TestCreateDelete(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Create("bob", sink.NewMailbox(4)))

	err := r.Create("bob", sink.NewMailbox(4))
	assert.True(t, errdefs.IsAlreadyExists(err))

	require.NoError(t, r.Delete("bob"))

	err = r.Delete("bob")
	assert.True(t, errdefs.IsNotFound(err))

	_, ok := r.Sink("bob")
	assert.False(t, ok)
}

func TestDeleteClosesSink(t *testing.T) {
	r := NewRegistry()
	mailbox := sink.NewMailbox(4)
	require.NoError(t, r.Create("bob", mailbox))

	require.NoError(t, r.Delete("bob"))

	err := mailbox.Send(context.Background(), types.Batch{{Data: "x"}})
	assert.ErrorIs(t, err, sink.ErrClosed)
}

func TestSubscribeMissingUser(t *testing.T) {
	r := NewRegistry()
	broker := events.NewBroker(8, events.SkipToOldest)

	opened := false
	err := r.Subscribe("ghost", c1, func() (subscription.Feed, error) {
		opened = true
		return broker.Subscribe(), nil
	})
	assert.True(t, errdefs.IsNotFound(err))
	assert.False(t, opened)
	assert.Equal(t, 0, broker.SubscriberCount())
}

func TestSubscribeOpenError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Create("bob", sink.NewMailbox(4)))

	boom := errors.New("no such channel")
	err := r.Subscribe("bob", c1, func() (subscription.Feed, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.Stats().Subscriptions)
}

func TestSubscribeDelivers(t *testing.T) {
	r := NewRegistry()
	broker := events.NewBroker(8, events.SkipToOldest)
	mailbox := sink.NewMailbox(8)
	require.NoError(t, r.Create("bob", mailbox))

	require.NoError(t, r.Subscribe("bob", c1, opener(broker)))
	// Second subscribe to the same channel keeps the existing task.
	require.NoError(t, r.Subscribe("bob", c1, opener(broker)))
	assert.Equal(t, 1, broker.SubscriberCount())

	refs, err := r.Subscriptions("bob")
	require.NoError(t, err)
	assert.Equal(t, []types.ChannelRef{c1}, refs)

	broker.Publish(types.Batch{{Data: "hello"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := mailbox.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Batch{{Data: "hello"}}, got)
}

func TestDeleteStopsDeliveries(t *testing.T) {
	r := NewRegistry()
	broker := events.NewBroker(64, events.SkipToOldest)

	var delivered atomic.Int64
	var closed atomic.Bool
	s := &recordingSink{
		send: func(types.Batch) {
			if closed.Load() {
				t.Error("delivery after user deletion")
			}
			delivered.Add(1)
		},
	}
	require.NoError(t, r.Create("bob", s))
	require.NoError(t, r.Subscribe("bob", c1, opener(broker)))
	require.NoError(t, r.Subscribe("bob", types.ChannelRef{App: "a1", Channel: "c2"}, opener(broker)))

	broker.Publish(types.Batch{{Data: "1"}})
	assert.Eventually(t, func() bool { return delivered.Load() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Delete("bob"))
	closed.Store(true)

	for i := 0; i < 10; i++ {
		broker.Publish(types.Batch{{Data: "late"}})
	}
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int64(2), delivered.Load())
	assert.Equal(t, 0, broker.SubscriberCount())
	assert.True(t, s.isClosed())
	assert.Equal(t, Stats{}, r.Stats())
}

func TestUnsubscribe(t *testing.T) {
	r := NewRegistry()
	broker := events.NewBroker(8, events.SkipToOldest)
	require.NoError(t, r.Create("bob", sink.NewMailbox(8)))

	err := r.Unsubscribe("bob", c1)
	assert.True(t, errdefs.IsNotFound(err))
	err = r.Unsubscribe("ghost", c1)
	assert.True(t, errdefs.IsNotFound(err))

	require.NoError(t, r.Subscribe("bob", c1, opener(broker)))
	require.NoError(t, r.Unsubscribe("bob", c1))

	assert.Equal(t, 0, broker.SubscriberCount())
	refs, err := r.Subscriptions("bob")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestTaskRemovedWhenFeedEnds(t *testing.T) {
	r := NewRegistry()
	broker := events.NewBroker(8, events.SkipToOldest)
	require.NoError(t, r.Create("bob", sink.NewMailbox(8)))
	require.NoError(t, r.Subscribe("bob", c1, opener(broker)))

	broker.Close()

	assert.Eventually(t, func() bool {
		return r.Stats().Subscriptions == 0
	}, time.Second, 5*time.Millisecond)
}

func TestDeliveryFailuresCounted(t *testing.T) {
	r := NewRegistry()
	broker := events.NewBroker(8, events.SkipToOldest)
	// A full mailbox rejects deliveries without closing.
	mailbox := sink.NewMailbox(1)
	require.NoError(t, r.Create("bob", mailbox))
	require.NoError(t, r.Subscribe("bob", c1, opener(broker)))

	broker.Publish(types.Batch{{Data: "1"}})
	broker.Publish(types.Batch{{Data: "2"}})

	assert.Eventually(t, func() bool {
		return r.Stats().DeliveryFailures == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, r.Stats().Subscriptions)
}

func TestConcurrentSubscribeAndDelete(t *testing.T) {
	for i := 0; i < 50; i++ {
		r := NewRegistry()
		broker := events.NewBroker(8, events.SkipToOldest)
		require.NoError(t, r.Create("bob", sink.NewMailbox(8)))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := r.Subscribe("bob", c1, opener(broker))
			if err != nil {
				assert.True(t, errdefs.IsNotFound(err))
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Delete("bob"))
		}()
		wg.Wait()

		// Whichever order won, no task survives the user.
		assert.Eventually(t, func() bool {
			return broker.SubscriberCount() == 0
		}, time.Second, time.Millisecond)
	}
}

func TestClose(t *testing.T) {
	r := NewRegistry()
	broker := events.NewBroker(8, events.SkipToOldest)
	for _, name := range []string{"alice", "bob"} {
		require.NoError(t, r.Create(name, sink.NewMailbox(8)))
		require.NoError(t, r.Subscribe(name, c1, opener(broker)))
	}
	assert.Equal(t, []string{"alice", "bob"}, r.Names())
	assert.Equal(t, 2, r.Stats().Subscriptions)

	r.Close()

	assert.Empty(t, r.Names())
	assert.Equal(t, 0, broker.SubscriberCount())
}

// stuckSink blocks every Send until released, ignoring ctx
func stuckSink(t *testing.T) (s sink.Func, entered <-chan struct{}, release func()) {
	in := make(chan struct{})
	out := make(chan struct{})
	var enterOnce, releaseOnce sync.Once
	t.Cleanup(func() { releaseOnce.Do(func() { close(out) }) })

	s = func(context.Context, types.Batch) error {
		enterOnce.Do(func() { close(in) })
		<-out
		return nil
	}
	return s, in, func() { releaseOnce.Do(func() { close(out) }) }
}

func TestDeleteDoesNotWaitOnStuckSink(t *testing.T) {
	r := NewRegistry()
	r.stopTimeout = 50 * time.Millisecond
	broker := events.NewBroker(8, events.SkipToOldest)

	stuck, entered, release := stuckSink(t)
	require.NoError(t, r.Create("bob", stuck))
	require.NoError(t, r.Subscribe("bob", c1, opener(broker)))
	broker.Publish(types.Batch{{Data: "1"}})

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("delivery never reached the sink")
	}

	deleted := make(chan error, 1)
	go func() { deleted <- r.Delete("bob") }()
	select {
	case err := <-deleted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Delete blocked on a stuck sink")
	}
	assert.Equal(t, Stats{}, r.Stats())

	// Once the sink lets go the abandoned task exits on its own.
	release()
	assert.Eventually(t, func() bool {
		return broker.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestUnsubscribeDoesNotWaitOnStuckSink(t *testing.T) {
	r := NewRegistry()
	r.stopTimeout = 50 * time.Millisecond
	broker := events.NewBroker(8, events.SkipToOldest)

	stuck, entered, _ := stuckSink(t)
	require.NoError(t, r.Create("bob", stuck))
	require.NoError(t, r.Subscribe("bob", c1, opener(broker)))
	broker.Publish(types.Batch{{Data: "1"}})
	<-entered

	done := make(chan struct{})
	go func() {
		assert.NoError(t, r.Unsubscribe("bob", c1))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Unsubscribe blocked on a stuck sink")
	}
}

func TestRecreatedUserGetsNoOldDeliveries(t *testing.T) {
	r := NewRegistry()
	r.stopTimeout = 50 * time.Millisecond
	broker := events.NewBroker(8, events.SkipToOldest)

	stuck, entered, release := stuckSink(t)
	require.NoError(t, r.Create("bob", stuck))
	old, _ := r.get("bob")
	require.NoError(t, r.Subscribe("bob", c1, opener(broker)))
	broker.Publish(types.Batch{{Data: "old"}})
	<-entered

	require.NoError(t, r.Delete("bob"))
	mailbox := sink.NewMailbox(8)
	require.NoError(t, r.Create("bob", mailbox))
	cur, _ := r.get("bob")

	_, ok := boundLookup{registry: r, user: old}.Sink("bob")
	assert.False(t, ok, "a task of the deleted user must not resolve the new sink")
	s, ok := boundLookup{registry: r, user: cur}.Sink("bob")
	require.True(t, ok)
	assert.Equal(t, sink.Sink(mailbox), s)

	broker.Publish(types.Batch{{Data: "late"}})
	release()
	assert.Eventually(t, func() bool {
		return broker.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, mailbox.Len())
}

type recordingSink struct {
	mu     sync.Mutex
	closed bool
	send   func(types.Batch)
}

func (s *recordingSink) Send(_ context.Context, b types.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sink.ErrClosed
	}
	s.send(b)
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
