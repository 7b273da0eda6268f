package types

// Event is an immutable, opaque payload appended to a channel.
// An event has no identity of its own: it is identified by its
// position in the channel's event log.
type Event struct {
	Data string `json:"data"`
}

// Batch is an ordered group of events published in one call.
// Batches are shared between the log and every subscriber and must
// not be modified once published.
type Batch []Event

// Clone returns a copy of b that does not share backing storage.
func (b Batch) Clone() Batch {
	if b == nil {
		return nil
	}
	out := make(Batch, len(b))
	copy(out, b)
	return out
}

// UserData is the payload used to create a user.
type UserData struct {
	Name string `json:"name" validate:"required,max=256"`
}

// ChannelRef names a channel within an app.
type ChannelRef struct {
	App     string `json:"app"`
	Channel string `json:"channel"`
}

// String returns "app/channel".
func (r ChannelRef) String() string {
	return r.App + "/" + r.Channel
}

// Stats is a point-in-time summary of the bus.
type Stats struct {
	Apps          int `json:"apps"`
	Channels      int `json:"channels"`
	Users         int `json:"users"`
	Subscriptions int `json:"subscriptions"`
	QueuedBatches int `json:"queued_batches"`
	StoredEvents  int `json:"stored_events"`

	DeliveryFailures uint64 `json:"delivery_failures"`
}
