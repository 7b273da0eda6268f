package registry

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/channel"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(channel.DefaultConfig())
	t.Cleanup(r.Close)
	return r
}

func TestCreateApp(t *testing.T) {
	r := newRegistry(t)

	require.NoError(t, r.CreateApp("a1"))

	err := r.CreateApp("a1")
	require.Error(t, err)
	assert.True(t, errdefs.IsAlreadyExists(err))
	assert.Equal(t, []string{"a1"}, r.Apps())
}

func TestDeleteApp(t *testing.T) {
	r := newRegistry(t)

	err := r.DeleteApp("missing")
	assert.True(t, errdefs.IsNotFound(err))

	require.NoError(t, r.CreateApp("a1"))
	require.NoError(t, r.CreateChannel("a1", "c1"))
	engine, err := r.Channel("a1", "c1")
	require.NoError(t, err)

	require.NoError(t, r.DeleteApp("a1"))

	select {
	case <-engine.Done():
	case <-time.After(time.Second):
		t.Fatal("engine still running after app deletion")
	}

	_, err = r.Channel("a1", "c1")
	assert.True(t, errdefs.IsNotFound(err))
	assert.Empty(t, r.Apps())

	// The name is free again.
	require.NoError(t, r.CreateApp("a1"))
	names, err := r.Channels("a1")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCreateChannel(t *testing.T) {
	r := newRegistry(t)

	tests := []struct {
		name    string
		app     string
		channel string
		check   func(error) bool
	}{
		{name: "missing app", app: "nope", channel: "c1", check: errdefs.IsNotFound},
		{name: "duplicate channel", app: "a1", channel: "c1", check: errdefs.IsAlreadyExists},
	}

	require.NoError(t, r.CreateApp("a1"))
	require.NoError(t, r.CreateChannel("a1", "c1"))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.CreateChannel(tt.app, tt.channel)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	require.NoError(t, r.CreateChannel("a1", "c0"))
	names, err := r.Channels("a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c0", "c1"}, names)
	assert.Equal(t, Stats{Apps: 1, Channels: 2}, r.Stats())
}

func TestDeleteChannelEndsSubscribers(t *testing.T) {
	r := newRegistry(t)
	require.NoError(t, r.CreateApp("a1"))
	require.NoError(t, r.CreateChannel("a1", "c1"))

	engine, err := r.Channel("a1", "c1")
	require.NoError(t, err)
	sub, err := engine.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, engine.Publish(types.Batch{{Data: "last"}}))
	require.NoError(t, r.DeleteChannel("a1", "c1"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Batch{{Data: "last"}}, got)

	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, events.ErrClosed)

	err = r.DeleteChannel("a1", "c1")
	assert.True(t, errdefs.IsNotFound(err))
	err = r.DeleteChannel("nope", "c1")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestChannelsMissingApp(t *testing.T) {
	r := newRegistry(t)

	_, err := r.Channels("nope")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestEnginesAndClose(t *testing.T) {
	r := New(channel.DefaultConfig())
	require.NoError(t, r.CreateApp("a1"))
	require.NoError(t, r.CreateApp("a2"))
	require.NoError(t, r.CreateChannel("a1", "c1"))
	require.NoError(t, r.CreateChannel("a2", "c1"))

	engines := r.Engines()
	require.Len(t, engines, 2)

	r.Close()
	for _, e := range engines {
		select {
		case <-e.Done():
		default:
			t.Fatalf("engine %s still running", e.Ref())
		}
	}
	assert.Equal(t, Stats{}, r.Stats())
}

func TestLifecycleIsLogged(t *testing.T) {
	buf := &lockedBuffer{}
	log.Init(log.Config{Level: log.DebugLevel, JSONOutput: true, Output: buf})
	t.Cleanup(func() { log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: &bytes.Buffer{}}) })

	r := newRegistry(t)
	require.NoError(t, r.CreateApp("a1"))
	require.NoError(t, r.CreateChannel("a1", "c1"))
	require.NoError(t, r.DeleteChannel("a1", "c1"))
	require.NoError(t, r.DeleteApp("a1"))

	out := buf.String()
	for _, msg := range []string{"app created", "channel created", "channel deleted", "app deleted"} {
		assert.Contains(t, out, `"message":"`+msg+`"`)
	}
	assert.Contains(t, out, `"component":"registry"`)
	assert.Contains(t, out, `"channel":"c1"`)
}

// lockedBuffer collects log output written from engine workers and the test
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
