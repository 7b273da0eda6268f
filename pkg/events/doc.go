/*
Package events provides the in-memory fan-out broker behind every Burrow
channel.

A Broker is a single-producer, multi-consumer ring buffer of event
batches. The channel engine's worker is the only producer; every
subscription owns one Subscriber, which is an independent cursor into the
ring.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  engine worker ──Publish──▶ ring (capacity 512 batches)   │
	│                               │ head = next sequence       │
	│                               │ notify chan closed on      │
	│                               │ every publish              │
	│                               ▼                            │
	│        Subscriber A (next=head-2)  Subscriber B (next=…)  │
	│           Next(ctx) ──▶ batch      Next(ctx) ──▶ LagError │
	└────────────────────────────────────────────────────────┘

# Delivery Guarantees

  - Publish never blocks and never waits on subscribers
  - A subscriber sees batches in publish order, never duplicated
  - A new subscriber starts at the current head (new batches only)
  - A subscriber more than Capacity batches behind receives a *LagError
    and resumes according to the LagPolicy:
      - SkipToOldest: at the oldest batch still in the ring
      - SkipToLatest: at the next batch published
  - After Close, subscribers drain what is retained and get ErrClosed

Delivery is best effort. The channel's event log, not the broker, is the
source of truth for history.

# Usage

	broker := events.NewBroker(events.DefaultCapacity, events.SkipToOldest)
	defer broker.Close()

	sub := broker.Subscribe()
	defer sub.Close()

	go func() {
		for {
			batch, err := sub.Next(ctx)
			var lag *events.LagError
			switch {
			case errors.As(err, &lag):
				continue
			case err != nil:
				return
			}
			deliver(batch)
		}
	}()

	broker.Publish(types.Batch{{Data: "hello"}})

# Locking

The ring is guarded by one RWMutex. Publish takes it exclusively for a
slot write; subscribers only take the read lock, so they never exclude
each other. Waiting happens outside the lock on the notify channel.
*/
package events
