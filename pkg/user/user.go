// Package user tracks connected users, their sinks and the subscription
// tasks running on their behalf.
package user

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/containerd/errdefs"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/sink"
	"github.com/cuemby/burrow/pkg/subscription"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// User is a named receiver with one sink and at most one task per channel
type User struct {
	name string
	sink sink.Sink

	mu     sync.Mutex
	tasks  map[types.ChannelRef]*subscription.Task
	closed bool

	failures atomic.Uint64
}

// Name returns the user's name
func (u *User) Name() string { return u.name }

// register adds t under ref. It fails once the user has been torn down.
// An existing running task for ref is returned instead of adding t.
func (u *User) register(ref types.ChannelRef, t *subscription.Task) (existing *subscription.Task, ok bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return nil, false
	}
	if cur, found := u.tasks[ref]; found {
		return cur, true
	}
	u.tasks[ref] = t
	return nil, true
}

// remove deletes ref from the task set if it still maps to t
func (u *User) remove(ref types.ChannelRef, t *subscription.Task) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if cur, ok := u.tasks[ref]; ok && cur == t {
		delete(u.tasks, ref)
		return true
	}
	return false
}

// teardown marks the user closed and hands back every task it owned
func (u *User) teardown() []*subscription.Task {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.closed = true
	tasks := make([]*subscription.Task, 0, len(u.tasks))
	for _, t := range u.tasks {
		tasks = append(tasks, t)
	}
	u.tasks = make(map[types.ChannelRef]*subscription.Task)
	return tasks
}

func (u *User) has(ref types.ChannelRef) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.tasks[ref]
	return ok
}

func (u *User) refs() []types.ChannelRef {
	u.mu.Lock()
	defer u.mu.Unlock()

	refs := make([]types.ChannelRef, 0, len(u.tasks))
	for ref := range u.tasks {
		refs = append(refs, ref)
	}
	return refs
}

func (u *User) taskCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.tasks)
}

// DefaultStopTimeout bounds how long Delete and Unsubscribe wait for a task
// stuck in a delivery to a sink that ignores its context.
const DefaultStopTimeout = 2 * time.Second

// FeedOpener opens the channel feed a new subscription will consume
type FeedOpener func() (subscription.Feed, error)

// Stats counts users, their running subscriptions and transient delivery
// failures reported by those subscriptions
type Stats struct {
	Users            int
	Subscriptions    int
	DeliveryFailures uint64
}

// Registry owns all users. The map is guarded by one RWMutex; each user's
// task set by that user's own mutex.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*User

	stopTimeout time.Duration
	logger      zerolog.Logger
}

// NewRegistry creates an empty user registry
func NewRegistry() *Registry {
	return &Registry{
		users:       make(map[string]*User),
		stopTimeout: DefaultStopTimeout,
		logger:      log.WithComponent("users"),
	}
}

// SetStopTimeout changes how long Delete and Unsubscribe wait for tasks to
// stop. Non-positive values are ignored.
func (r *Registry) SetStopTimeout(d time.Duration) {
	if d > 0 {
		r.stopTimeout = d
	}
}

// Create registers name with the sink its deliveries go to
func (r *Registry) Create(name string, s sink.Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[name]; ok {
		return fmt.Errorf("user %q: %w", name, errdefs.ErrAlreadyExists)
	}
	r.users[name] = &User{
		name:  name,
		sink:  s,
		tasks: make(map[types.ChannelRef]*subscription.Task),
	}

	r.logger.Debug().Str("user", name).Msg("user created")
	return nil
}

// Delete removes name, stops every subscription task it owns and closes its
// sink. When Delete returns no further batch reaches the sink. A task stuck
// in Send is waited for at most the stop timeout and then abandoned; closing
// the sink fences off whatever it would deliver next.
func (r *Registry) Delete(name string) error {
	timer := metrics.NewTimer()

	r.mu.Lock()
	u, ok := r.users[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("user %q: %w", name, errdefs.ErrNotFound)
	}
	delete(r.users, name)
	r.mu.Unlock()

	tasks := u.teardown()
	for _, t := range tasks {
		t.Cancel()
	}
	r.await(name, tasks)

	if err := u.sink.Close(); err != nil {
		r.logger.Warn().Err(err).Str("user", name).Msg("failed to close sink")
	}

	timer.ObserveDuration(metrics.UserDeleteDuration)
	r.logger.Debug().
		Str("user", name).
		Int("subscriptions", len(tasks)).
		Dur("took", timer.Duration()).
		Msg("user deleted")
	return nil
}

// Subscribe starts a task delivering ref's live batches to name. open is
// called only when a new task is needed. Subscribing twice to the same
// channel keeps the existing task.
func (r *Registry) Subscribe(name string, ref types.ChannelRef, open FeedOpener) error {
	u, ok := r.get(name)
	if !ok {
		return fmt.Errorf("user %q: %w", name, errdefs.ErrNotFound)
	}
	if u.has(ref) {
		return nil
	}

	feed, err := open()
	if err != nil {
		return err
	}

	task := subscription.New(subscription.Config{
		User:    name,
		Ref:     ref,
		Feed:    feed,
		Sinks:   boundLookup{registry: r, user: u},
		OnError: func(*subscription.Task, error) { u.failures.Add(1) },
		OnExit:  func(t *subscription.Task) { u.remove(t.Ref(), t) },
	})

	existing, ok := u.register(ref, task)
	if !ok {
		task.Cancel()
		return fmt.Errorf("user %q: %w", name, errdefs.ErrNotFound)
	}
	if existing != nil {
		task.Cancel()
		return nil
	}

	// The user may have been deleted between the lookup and registering.
	if cur, ok := r.get(name); !ok || cur != u {
		u.remove(ref, task)
		task.Cancel()
		return fmt.Errorf("user %q: %w", name, errdefs.ErrNotFound)
	}

	task.Start()
	r.logger.Debug().
		Str("user", name).
		Str("channel", ref.String()).
		Str("task", task.ID()).
		Msg("subscribed")
	return nil
}

// Unsubscribe stops name's task for ref and waits for it to exit
func (r *Registry) Unsubscribe(name string, ref types.ChannelRef) error {
	u, ok := r.get(name)
	if !ok {
		return fmt.Errorf("user %q: %w", name, errdefs.ErrNotFound)
	}

	u.mu.Lock()
	task, ok := u.tasks[ref]
	if ok {
		delete(u.tasks, ref)
	}
	u.mu.Unlock()

	if !ok {
		return fmt.Errorf("subscription of %q to %s: %w", name, ref, errdefs.ErrNotFound)
	}
	task.Cancel()
	r.await(name, []*subscription.Task{task})
	return nil
}

// await waits for tasks to stop, giving up on the stragglers once the stop
// timeout elapses
func (r *Registry) await(name string, tasks []*subscription.Task) {
	if len(tasks) == 0 {
		return
	}
	deadline := time.NewTimer(r.stopTimeout)
	defer deadline.Stop()

	for i, t := range tasks {
		select {
		case <-t.Done():
		case <-deadline.C:
			stuck := 0
			for _, rest := range tasks[i:] {
				select {
				case <-rest.Done():
				default:
					stuck++
				}
			}
			r.logger.Warn().
				Str("user", name).
				Int("tasks", stuck).
				Dur("timeout", r.stopTimeout).
				Msg("subscription tasks did not stop in time")
			return
		}
	}
}

// Sink returns the sink of name if the user still exists
func (r *Registry) Sink(name string) (sink.Sink, bool) {
	u, ok := r.get(name)
	if !ok {
		return nil, false
	}
	return u.sink, true
}

// Subscriptions lists the channels name is subscribed to, sorted
func (r *Registry) Subscriptions(name string) ([]types.ChannelRef, error) {
	u, ok := r.get(name)
	if !ok {
		return nil, fmt.Errorf("user %q: %w", name, errdefs.ErrNotFound)
	}

	refs := u.refs()
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].String() < refs[j].String()
	})
	return refs, nil
}

// Names returns every user name, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.users))
	for name := range r.users {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Stats returns user and subscription counts
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	users := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	r.mu.RUnlock()

	stats := Stats{Users: len(users)}
	for _, u := range users {
		stats.Subscriptions += u.taskCount()
		stats.DeliveryFailures += u.failures.Load()
	}
	return stats
}

// Close deletes every user
func (r *Registry) Close() {
	for _, name := range r.Names() {
		if err := r.Delete(name); err != nil && !errdefs.IsNotFound(err) {
			r.logger.Warn().Err(err).Str("user", name).Msg("failed to delete user")
		}
	}
}

func (r *Registry) get(name string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[name]
	return u, ok
}

// boundLookup resolves a sink only while the name still belongs to the user
// the task was created for, so a deleted and recreated name never receives
// an old task's deliveries.
type boundLookup struct {
	registry *Registry
	user     *User
}

func (l boundLookup) Sink(name string) (sink.Sink, bool) {
	cur, ok := l.registry.get(name)
	if !ok || cur != l.user {
		return nil, false
	}
	return cur.sink, true
}
