/*
Package manager is the core facade of the bus: every transport calls into
a Manager and nothing else.

A Manager composes two registries:

	            ┌──────────── Manager ────────────┐
	 publish ──▶│ registry.Registry               │
	            │   app ─▶ channel ─▶ channel.Engine ──┐
	            │                                 │    │ broker
	subscribe ─▶│ user.Registry                   │    ▼
	            │   user ─▶ sink, {subscription.Task} ◀┘
	            └─────────────────────────────────┘

Publishing resolves (app, channel) to its engine and enqueues a batch; it
never blocks and fails with channel.ErrBackpressure when the engine's queue
is full. Subscribing resolves the engine, opens a feed positioned at the
current end of the channel and starts a task that forwards new batches to
the user's sink.

# Errors

Errors wrap the github.com/containerd/errdefs classes and are tested with
errdefs.IsNotFound, errdefs.IsAlreadyExists and errdefs.IsResourceExhausted.
An engine closed by a concurrent channel deletion is reported as not found.

# Lifecycle

DeleteUser returns only after every task of the user has stopped and its
sink is closed. DeleteChannel and DeleteApp drain queued batches before
stopping the engines, which in turn ends every task bound to them.
Shutdown does both for everything.

# Metrics

MetricsCollector samples Stats on a fixed interval into the gauges of
package metrics.
*/
package manager
