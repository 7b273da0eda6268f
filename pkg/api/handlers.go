package api

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// maxBodyBytes bounds publish and create payloads
const maxBodyBytes = 4 << 20

var validate = validator.New()

func (s *Server) createApp(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.CreateApp(chi.URLParam(r, "app")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) deleteApp(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "app")
	if err := s.manager.DeleteApp(app); err != nil {
		writeError(w, r, err)
		return
	}
	s.limiter.forget(app)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) listApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.manager.ListApps()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) createChannel(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.CreateChannel(chi.URLParam(r, "app"), chi.URLParam(r, "channel")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) deleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteChannel(chi.URLParam(r, "app"), chi.URLParam(r, "channel")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.manager.ListChannels(chi.URLParam(r, "app"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}

// publishEvents accepts a JSON array of events as one batch. The batch is
// queued, not yet applied, when the response is written.
func (s *Server) publishEvents(w http.ResponseWriter, r *http.Request) {
	var events []types.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&events); err != nil {
		writeError(w, r, fmt.Errorf("invalid events payload: %v: %w", err, errdefs.ErrInvalidArgument))
		return
	}

	if err := s.manager.PublishEvents(chi.URLParam(r, "app"), chi.URLParam(r, "channel"), events); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.manager.GetEvents(chi.URLParam(r, "app"), chi.URLParam(r, "channel"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []types.Event{}
	}

	pretty, _ := strconv.ParseBool(r.URL.Query().Get("pretty"))
	if !pretty {
		writeJSON(w, http.StatusOK, events)
		return
	}

	body, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	name, err := decodeName(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.manager.CreateMailboxUser(name); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteUser(chi.URLParam(r, "name")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	refs, err := s.manager.Subscriptions(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refs)
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request) {
	name, err := decodeName(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.manager.Subscribe(name, chi.URLParam(r, "app"), chi.URLParam(r, "channel")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) unsubscribe(w http.ResponseWriter, r *http.Request) {
	err := s.manager.Unsubscribe(chi.URLParam(r, "name"), chi.URLParam(r, "app"), chi.URLParam(r, "channel"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// decodeName reads a user name from a {"name": ...} JSON body or a
// url-encoded form field.
func decodeName(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var data types.UserData
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return "", fmt.Errorf("invalid form: %v: %w", err, errdefs.ErrInvalidArgument)
		}
		data.Name = r.PostForm.Get("name")
	default:
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			return "", fmt.Errorf("invalid user payload: %v: %w", err, errdefs.ErrInvalidArgument)
		}
	}

	if err := validate.Struct(data); err != nil {
		return "", fmt.Errorf("invalid name: %v: %w", err, errdefs.ErrInvalidArgument)
	}
	return data.Name, nil
}
