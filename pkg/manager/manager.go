package manager

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/channel"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/registry"
	"github.com/cuemby/burrow/pkg/sink"
	"github.com/cuemby/burrow/pkg/subscription"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/user"
	"github.com/rs/zerolog"
)

// ErrShutdown is returned by every operation once Shutdown has been called
var ErrShutdown = fmt.Errorf("manager shut down: %w", errdefs.ErrUnavailable)

// Manager is the single entry point for every bus operation
type Manager struct {
	apps  *registry.Registry
	users *user.Registry

	mailboxSize int
	shutdown    atomic.Bool

	logger zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	Channel     channel.Config
	MailboxSize int
	// StopTimeout bounds the wait for subscription tasks on user deletion.
	StopTimeout time.Duration
}

// DefaultConfig returns the default manager configuration
func DefaultConfig() Config {
	return Config{
		Channel:     channel.DefaultConfig(),
		MailboxSize: sink.DefaultMailboxSize,
		StopTimeout: user.DefaultStopTimeout,
	}
}

// NewManager creates a manager with no apps and no users
func NewManager(cfg Config) *Manager {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = sink.DefaultMailboxSize
	}
	users := user.NewRegistry()
	users.SetStopTimeout(cfg.StopTimeout)

	return &Manager{
		apps:        registry.New(cfg.Channel),
		users:       users,
		mailboxSize: cfg.MailboxSize,
		logger:      log.WithComponent("manager"),
	}
}

func (m *Manager) check() error {
	if m.shutdown.Load() {
		return ErrShutdown
	}
	return nil
}

// CreateApp creates an empty app
func (m *Manager) CreateApp(app string) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.apps.CreateApp(app)
}

// DeleteApp deletes an app and all of its channels
func (m *Manager) DeleteApp(app string) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.apps.DeleteApp(app)
}

// CreateChannel creates a channel in an existing app
func (m *Manager) CreateChannel(app, ch string) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.apps.CreateChannel(app, ch)
}

// DeleteChannel deletes a channel after delivering what is already queued
func (m *Manager) DeleteChannel(app, ch string) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.apps.DeleteChannel(app, ch)
}

// PublishEvents enqueues events as one batch on app/ch. It returns
// channel.ErrBackpressure when the channel cannot accept more batches.
func (m *Manager) PublishEvents(app, ch string, events []types.Event) error {
	if err := m.check(); err != nil {
		return err
	}

	engine, err := m.apps.Channel(app, ch)
	if err != nil {
		return err
	}
	if err := engine.Publish(types.Batch(events)); err != nil {
		return channelError(app, ch, err)
	}
	return nil
}

// GetEvents returns every event published to app/ch so far
func (m *Manager) GetEvents(app, ch string) ([]types.Event, error) {
	if err := m.check(); err != nil {
		return nil, err
	}

	engine, err := m.apps.Channel(app, ch)
	if err != nil {
		return nil, err
	}
	return engine.Snapshot(), nil
}

// CreateUser registers a user whose deliveries go to s
func (m *Manager) CreateUser(name string, s sink.Sink) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.users.Create(name, s)
}

// CreateMailboxUser registers a user backed by a new Mailbox and returns it
func (m *Manager) CreateMailboxUser(name string) (*sink.Mailbox, error) {
	mailbox := sink.NewMailbox(m.mailboxSize)
	if err := m.CreateUser(name, mailbox); err != nil {
		return nil, err
	}
	return mailbox, nil
}

// Mailbox returns the Mailbox sink of name. Users created with another
// sink kind yield an invalid argument error.
func (m *Manager) Mailbox(name string) (*sink.Mailbox, error) {
	if err := m.check(); err != nil {
		return nil, err
	}

	s, ok := m.users.Sink(name)
	if !ok {
		return nil, fmt.Errorf("user %q: %w", name, errdefs.ErrNotFound)
	}
	mailbox, ok := s.(*sink.Mailbox)
	if !ok {
		return nil, fmt.Errorf("user %q has no mailbox: %w", name, errdefs.ErrInvalidArgument)
	}
	return mailbox, nil
}

// DeleteUser removes a user. Every subscription of the user is stopped and
// its sink closed before DeleteUser returns.
func (m *Manager) DeleteUser(name string) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.users.Delete(name)
}

// Subscribe starts delivering batches published to app/ch from now on to
// the user name.
func (m *Manager) Subscribe(name, app, ch string) error {
	if err := m.check(); err != nil {
		return err
	}

	// Resolve the channel first so a missing channel never reaches the
	// user registry.
	engine, err := m.apps.Channel(app, ch)
	if err != nil {
		return err
	}

	ref := types.ChannelRef{App: app, Channel: ch}
	return m.users.Subscribe(name, ref, func() (subscription.Feed, error) {
		sub, err := engine.Subscribe()
		if err != nil {
			return nil, channelError(app, ch, err)
		}
		return sub, nil
	})
}

// Unsubscribe stops the user's subscription to app/ch
func (m *Manager) Unsubscribe(name, app, ch string) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.users.Unsubscribe(name, types.ChannelRef{App: app, Channel: ch})
}

// Subscriptions lists the channels a user is subscribed to
func (m *Manager) Subscriptions(name string) ([]types.ChannelRef, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return m.users.Subscriptions(name)
}

// ListApps returns all app names, sorted
func (m *Manager) ListApps() ([]string, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return m.apps.Apps(), nil
}

// ListChannels returns the channel names of app, sorted
func (m *Manager) ListChannels(app string) ([]string, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return m.apps.Channels(app)
}

// Stats returns a point-in-time summary of the bus
func (m *Manager) Stats() types.Stats {
	appStats := m.apps.Stats()
	userStats := m.users.Stats()

	stats := types.Stats{
		Apps:             appStats.Apps,
		Channels:         appStats.Channels,
		Users:            userStats.Users,
		Subscriptions:    userStats.Subscriptions,
		DeliveryFailures: userStats.DeliveryFailures,
	}
	for _, engine := range m.apps.Engines() {
		es := engine.Stats()
		stats.QueuedBatches += es.Queued
		stats.StoredEvents += es.Events
	}
	return stats
}

// Shutdown deletes every user, then drains and stops every channel.
// Calling Shutdown again is a no-op.
func (m *Manager) Shutdown() {
	if !m.shutdown.CompareAndSwap(false, true) {
		return
	}

	m.logger.Info().Msg("shutting down")
	m.users.Close()
	m.apps.Close()
	m.logger.Info().Msg("shutdown complete")
}

// channelError maps engine errors to the registry taxonomy. An engine that
// closed under a caller was deleted concurrently, which is a missing channel.
func channelError(app, ch string, err error) error {
	if errors.Is(err, channel.ErrClosed) {
		return fmt.Errorf("channel %q in app %q: %w", ch, app, errdefs.ErrNotFound)
	}
	return err
}
