package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	id    string
	event string
	data  string
}

// readFrames parses SSE frames from the response body, skipping comments
func readFrames(body *bufio.Reader, out chan<- frame) {
	defer close(out)
	var f frame
	for {
		line, err := body.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if f.event != "" {
				out <- f
			}
			f = frame{}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			f.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			f.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, ts *testServer, name string) (<-chan frame, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/users/"+name+"/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan frame, 16)
	go func() {
		defer resp.Body.Close()
		readFrames(bufio.NewReader(resp.Body), frames)
	}()
	return frames, cancel
}

func nextFrame(t *testing.T, frames <-chan frame) frame {
	t.Helper()
	select {
	case f, ok := <-frames:
		require.True(t, ok, "stream ended")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return frame{}
	}
}

func TestStreamDeliversBatches(t *testing.T) {
	ts := newTestServer(t, Config{DeleteUserOnDisconnect: true, HeartbeatInterval: 10 * time.Millisecond})
	require.NoError(t, ts.manager.CreateApp("a1"))
	require.NoError(t, ts.manager.CreateChannel("a1", "c1"))
	_, err := ts.manager.CreateMailboxUser("bob")
	require.NoError(t, err)
	require.NoError(t, ts.manager.Subscribe("bob", "a1", "c1"))

	frames, cancel := openStream(t, ts, "bob")
	defer cancel()

	hello := nextFrame(t, frames)
	assert.Equal(t, EventConnected, hello.event)
	var connected ConnectedEvent
	require.NoError(t, json.Unmarshal([]byte(hello.data), &connected))
	assert.Equal(t, "bob", connected.User)
	assert.NotEmpty(t, connected.Connection)

	// Only one stream per user.
	resp, _ := ts.do(t, http.MethodGet, "/users/bob/stream", "", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, ts.manager.PublishEvents("a1", "c1", []types.Event{{Data: "y"}}))

	f := nextFrame(t, frames)
	assert.Equal(t, EventBatch, f.event)
	assert.Equal(t, "1", f.id)
	assert.JSONEq(t, `[{"data":"y"}]`, f.data)

	// Disconnecting deletes the user and with it the subscription.
	cancel()
	assert.Eventually(t, func() bool {
		_, err := ts.manager.Mailbox("bob")
		return errdefs.IsNotFound(err)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, ts.manager.Stats().Subscriptions)
}

func TestStreamKeepsUserWhenConfigured(t *testing.T) {
	ts := newTestServer(t, Config{HeartbeatInterval: 10 * time.Millisecond})
	_, err := ts.manager.CreateMailboxUser("bob")
	require.NoError(t, err)

	frames, cancel := openStream(t, ts, "bob")
	assert.Equal(t, EventConnected, nextFrame(t, frames).event)
	cancel()

	// The stream can be reopened once the first one released the mailbox.
	assert.Eventually(t, func() bool {
		mb, err := ts.manager.Mailbox("bob")
		if err != nil {
			return false
		}
		release, err := mb.Attach()
		if err != nil {
			return false
		}
		release()
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamEndsOnUserDeletion(t *testing.T) {
	ts := newTestServer(t, Config{HeartbeatInterval: time.Second})
	_, err := ts.manager.CreateMailboxUser("bob")
	require.NoError(t, err)

	frames, cancel := openStream(t, ts, "bob")
	defer cancel()
	assert.Equal(t, EventConnected, nextFrame(t, frames).event)

	require.NoError(t, ts.manager.DeleteUser("bob"))

	select {
	case _, ok := <-frames:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after user deletion")
	}
}

func TestStreamMissingUser(t *testing.T) {
	ts := newTestServer(t, Config{})

	resp, _ := ts.do(t, http.MethodGet, "/users/ghost/stream", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerShutdownEndsStreams(t *testing.T) {
	ts := newTestServer(t, Config{HeartbeatInterval: time.Second})
	_, err := ts.manager.CreateMailboxUser("bob")
	require.NoError(t, err)

	frames, cancel := openStream(t, ts, "bob")
	defer cancel()
	assert.Equal(t, EventConnected, nextFrame(t, frames).event)

	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	require.NoError(t, ts.api.Shutdown(ctx))

	select {
	case _, ok := <-frames:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after shutdown")
	}
}
