/*
Package types defines the data structures shared by every Burrow package.

# Core Types

Event:
  - Opaque string payload, wire shape {"data": "..."}
  - Immutable once published
  - Identified by its index in the channel's event log

Batch:
  - Ordered slice of events accepted by a single publish call
  - The unit of ordering, storage and fan-out inside a channel engine
  - Shared by reference between the log and all subscribers

UserData:
  - Payload used to register a user, wire shape {"name": "..."}

ChannelRef:
  - (app, channel) pair used as a subscription key

Stats:
  - Aggregate counters reported by the manager and sampled by the
    metrics collector
*/
package types
