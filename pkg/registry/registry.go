// Package registry maps app names to their channels and each channel to
// its running engine.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/channel"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// Stats counts registered apps and channels
type Stats struct {
	Apps     int
	Channels int
}

// Registry owns every app and channel engine.
//
// A single mutex guards the structure. Engines are removed from the map
// under the lock and torn down after it is released, so no call ever waits
// on an engine while holding it.
type Registry struct {
	mu     sync.Mutex
	apps   map[string]map[string]*channel.Engine
	config channel.Config
	logger zerolog.Logger
}

// New creates an empty registry whose engines use cfg
func New(cfg channel.Config) *Registry {
	return &Registry{
		apps:   make(map[string]map[string]*channel.Engine),
		config: cfg,
		logger: log.WithComponent("registry"),
	}
}

// CreateApp registers an app with no channels
func (r *Registry) CreateApp(app string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.apps[app]; ok {
		return fmt.Errorf("app %q: %w", app, errdefs.ErrAlreadyExists)
	}
	r.apps[app] = make(map[string]*channel.Engine)

	r.logger.Debug().Str("app", app).Msg("app created")
	return nil
}

// DeleteApp removes an app and tears down every channel it owns
func (r *Registry) DeleteApp(app string) error {
	r.mu.Lock()
	channels, ok := r.apps[app]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("app %q: %w", app, errdefs.ErrNotFound)
	}
	delete(r.apps, app)
	r.mu.Unlock()

	for _, engine := range channels {
		engine.Close()
	}

	r.logger.Debug().Str("app", app).Int("channels", len(channels)).Msg("app deleted")
	return nil
}

// CreateChannel creates and starts the engine for app/ch
func (r *Registry) CreateChannel(app, ch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels, ok := r.apps[app]
	if !ok {
		return fmt.Errorf("app %q: %w", app, errdefs.ErrNotFound)
	}
	if _, ok := channels[ch]; ok {
		return fmt.Errorf("channel %q in app %q: %w", ch, app, errdefs.ErrAlreadyExists)
	}

	engine := channel.NewEngine(types.ChannelRef{App: app, Channel: ch}, r.config)
	engine.Start()
	channels[ch] = engine

	r.logger.Debug().Str("app", app).Str("channel", ch).Msg("channel created")
	return nil
}

// DeleteChannel removes app/ch and tears down its engine. Batches already
// queued are still applied and delivered before the engine stops.
func (r *Registry) DeleteChannel(app, ch string) error {
	engine, err := r.remove(app, ch)
	if err != nil {
		return err
	}
	engine.Close()

	r.logger.Debug().Str("app", app).Str("channel", ch).Msg("channel deleted")
	return nil
}

func (r *Registry) remove(app, ch string) (*channel.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels, ok := r.apps[app]
	if !ok {
		return nil, fmt.Errorf("app %q: %w", app, errdefs.ErrNotFound)
	}
	engine, ok := channels[ch]
	if !ok {
		return nil, fmt.Errorf("channel %q in app %q: %w", ch, app, errdefs.ErrNotFound)
	}
	delete(channels, ch)
	return engine, nil
}

// Channel resolves the engine for app/ch
func (r *Registry) Channel(app, ch string) (*channel.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels, ok := r.apps[app]
	if !ok {
		return nil, fmt.Errorf("app %q: %w", app, errdefs.ErrNotFound)
	}
	engine, ok := channels[ch]
	if !ok {
		return nil, fmt.Errorf("channel %q in app %q: %w", ch, app, errdefs.ErrNotFound)
	}
	return engine, nil
}

// Apps returns all app names in sorted order
func (r *Registry) Apps() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// Channels returns the channel names of app in sorted order
func (r *Registry) Channels(app string) ([]string, error) {
	r.mu.Lock()
	channels, ok := r.apps[app]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("app %q: %w", app, errdefs.ErrNotFound)
	}
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names, nil
}

// Engines returns a snapshot of every running engine
func (r *Registry) Engines() []*channel.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()

	var engines []*channel.Engine
	for _, channels := range r.apps {
		for _, engine := range channels {
			engines = append(engines, engine)
		}
	}
	return engines
}

// Stats returns app and channel counts
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{Apps: len(r.apps)}
	for _, channels := range r.apps {
		stats.Channels += len(channels)
	}
	return stats
}

// Close removes every app and tears down all engines
func (r *Registry) Close() {
	r.mu.Lock()
	apps := r.apps
	r.apps = make(map[string]map[string]*channel.Engine)
	r.mu.Unlock()

	for _, channels := range apps {
		for _, engine := range channels {
			engine.Close()
		}
	}
}
