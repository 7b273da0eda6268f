package channel

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batch(data ...string) types.Batch {
	b := make(types.Batch, len(data))
	for i, d := range data {
		b[i] = types.Event{Data: d}
	}
	return b
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e := NewEngine(types.ChannelRef{App: "a1", Channel: "c1"}, cfg)
	e.Start()
	t.Cleanup(e.Close)
	return e
}

func TestPublishAppendsInOrder(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	require.NoError(t, e.Publish(batch("1", "2")))
	require.NoError(t, e.Publish(batch("3")))

	assert.Eventually(t, func() bool {
		return len(e.Snapshot()) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []types.Event{{Data: "1"}, {Data: "2"}, {Data: "3"}}, e.Snapshot())
}

func TestPublishEmptyBatch(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	require.NoError(t, e.Publish(nil))
	require.NoError(t, e.Publish(types.Batch{}))
	e.Close()

	assert.Empty(t, e.Snapshot())
}

func TestPublishCopiesBatch(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	b := batch("original")
	require.NoError(t, e.Publish(b))
	b[0].Data = "mutated"
	e.Close()

	assert.Equal(t, []types.Event{{Data: "original"}}, e.Snapshot())
}

func TestPublishBackpressure(t *testing.T) {
	// Not started: nothing drains the queue.
	e := NewEngine(types.ChannelRef{App: "a", Channel: "c"}, Config{QueueSize: 2})
	defer e.Close()

	require.NoError(t, e.Publish(batch("1")))
	require.NoError(t, e.Publish(batch("2")))

	err := e.Publish(batch("3"))
	require.ErrorIs(t, err, ErrBackpressure)
	assert.True(t, errdefs.IsResourceExhausted(err))
	assert.Equal(t, 2, e.Stats().Queued)
}

func TestCloseDrainsQueue(t *testing.T) {
	e := NewEngine(types.ChannelRef{App: "a", Channel: "c"}, Config{QueueSize: 8})
	sub, err := e.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Publish(batch(fmt.Sprint(i))))
	}
	e.Start()
	e.Close()

	assert.Len(t, e.Snapshot(), 5)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		got, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, batch(fmt.Sprint(i)), got)
	}
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, events.ErrClosed)
}

func TestClosedEngine(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	e.Close()
	e.Close()

	select {
	case <-e.Done():
	default:
		t.Fatal("engine not done after Close")
	}

	assert.ErrorIs(t, e.Publish(batch("x")), ErrClosed)
	assert.ErrorIs(t, e.Publish(nil), ErrClosed, "empty batches are rejected once closed")
	assert.ErrorIs(t, e.Publish(types.Batch{}), ErrClosed)

	_, err := e.Subscribe()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseNeverStarted(t *testing.T) {
	e := NewEngine(types.ChannelRef{App: "a", Channel: "c"}, DefaultConfig())
	require.NoError(t, e.Publish(batch("x")))

	e.Close()
	assert.Equal(t, []types.Event{{Data: "x"}}, e.Snapshot())
}

func TestSubscribeStartsFromNow(t *testing.T) {
	e := newEngine(t, DefaultConfig())

	require.NoError(t, e.Publish(batch("before")))
	assert.Eventually(t, func() bool {
		return len(e.Snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	sub, err := e.Subscribe()
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, 1, e.Stats().Subscribers)

	require.NoError(t, e.Publish(batch("after")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, batch("after"), got)
}

func TestConcurrentPublishers(t *testing.T) {
	e := newEngine(t, Config{QueueSize: 1024})

	const publishers, perPublisher = 8, 50
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				assert.NoError(t, e.Publish(batch(fmt.Sprintf("%d-%d", p, i))))
			}
		}(p)
	}
	wg.Wait()
	e.Close()

	log := e.Snapshot()
	require.Len(t, log, publishers*perPublisher)

	// Each publisher's events keep their relative order.
	last := make(map[int]int)
	for _, ev := range log {
		var p, i int
		_, err := fmt.Sscanf(ev.Data, "%d-%d", &p, &i)
		require.NoError(t, err)
		if prev, ok := last[p]; ok {
			assert.Greater(t, i, prev)
		}
		last[p] = i
	}
}

func TestSnapshotIdempotent(t *testing.T) {
	e := newEngine(t, DefaultConfig())
	require.NoError(t, e.Publish(batch("1", "2")))
	e.Close()

	assert.Equal(t, e.Snapshot(), e.Snapshot())
}
