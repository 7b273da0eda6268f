package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/sink"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// SSE event names written by the stream endpoint
const (
	EventConnected = "connected"
	EventBatch     = "batch"
)

// ConnectedEvent is the payload of the first frame of every stream
type ConnectedEvent struct {
	User       string `json:"user"`
	Connection string `json:"connection"`
}

// stream drains a user's mailbox as Server-Sent Events, one "batch" event
// per delivered batch. A comment line is sent on every heartbeat interval.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	mailbox, err := s.manager.Mailbox(name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errors.New("streaming not supported"))
		return
	}

	release, err := mailbox.Attach()
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer release()

	connID := uuid.New().String()
	logger := s.logger.With().Str("user", name).Str("connection", connID).Logger()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-s.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Debug().Msg("stream opened")

	hello, _ := json.Marshal(ConnectedEvent{User: name, Connection: connID})
	if err := writeEvent(w, flusher, EventConnected, "", hello); err != nil {
		return
	}

	var seq uint64
	for {
		err := s.nextFrame(ctx, w, flusher, mailbox, &seq)
		if err == nil {
			continue
		}

		if errors.Is(err, sink.ErrClosed) {
			// The user was deleted elsewhere.
			logger.Debug().Msg("stream closed by user deletion")
			return
		}
		logger.Debug().Err(err).Uint64("batches", seq).Msg("stream disconnected")
		break
	}

	if s.config.DeleteUserOnDisconnect {
		if err := s.manager.DeleteUser(name); err != nil && !errdefs.IsNotFound(err) {
			logger.Warn().Err(err).Msg("failed to delete user on disconnect")
		}
	}
}

// nextFrame writes either the next batch or a heartbeat
func (s *Server) nextFrame(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, mailbox *sink.Mailbox, seq *uint64) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.config.HeartbeatInterval)
	defer cancel()

	batch, err := mailbox.Next(waitCtx)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	default:
		return err
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	*seq++
	return writeEvent(w, flusher, EventBatch, fmt.Sprint(*seq), data)
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, event, id string, data []byte) error {
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
