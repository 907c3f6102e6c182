// Package events carries level changes from the mirror core to the MQTT
// forwarder without blocking the reaction path. The status tracker is not a
// subscriber; it is updated on the reacting goroutine.
package events

import (
	"time"

	"github.com/kelindar/event"

	"github.com/sweeney/amp-switch/internal/mirror"
)

// Event type identifiers.
const (
	TypeLevel uint32 = iota + 1
)

// LevelEvent reports one controller reaction.
type LevelEvent struct {
	Timestamp time.Time
	Level     bool
	Cause     string // sync, catch-up, edge, shutdown
	Written   bool
	Skipped   bool   // the switch read failed, nothing was written
	Err       string // empty on success
}

// Type implements event.Event.
func (e LevelEvent) Type() uint32 { return TypeLevel }

// FromReaction converts a controller reaction.
func FromReaction(r mirror.Reaction) LevelEvent {
	e := LevelEvent{
		Timestamp: r.Time,
		Level:     r.Level,
		Cause:     string(r.Cause),
		Written:   r.Written,
		Skipped:   r.Skipped,
	}
	if r.Err != nil {
		e.Err = r.Err.Error()
	}
	return e
}

// Bus wraps a kelindar/event dispatcher. Each subscriber is delivered to on
// its own goroutine, in publish order.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates an event bus.
func New() *Bus {
	return &Bus{dispatcher: event.NewDispatcher()}
}

// Publish queues e for every subscriber and returns without waiting.
func (b *Bus) Publish(e LevelEvent) {
	event.Publish(b.dispatcher, e)
}

// Subscribe registers handler and returns a function that removes it.
func (b *Bus) Subscribe(handler func(LevelEvent)) func() {
	return event.Subscribe(b.dispatcher, handler)
}

// Close stops delivery to all subscribers. Events still queued are dropped.
func (b *Bus) Close() error {
	return b.dispatcher.Close()
}
