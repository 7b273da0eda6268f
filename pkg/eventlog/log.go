// Package eventlog holds the ordered, append-only record of one channel's
// events for the lifetime of the process.
package eventlog

import (
	"sync"

	"github.com/cuemby/burrow/pkg/types"
)

// Log is an append-only sequence of events.
// Readers always observe a prefix of the append order.
type Log struct {
	mu     sync.RWMutex
	events []types.Event
}

// New returns an empty log.
func New() *Log {
	return &Log{}
}

// Append adds the events of b to the end of the log and returns the new length.
func (l *Log) Append(b types.Batch) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, b...)
	return len(l.events)
}

// Snapshot returns a copy of every event appended so far.
func (l *Log) Snapshot() []types.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]types.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of events in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
