// Package terminallog carries the human-readable event stream shown in the
// web terminal: agent phase headers, tool call traces and notifications.
package terminallog

import (
	"sync"
	"time"
)

// Event is one terminal log entry.
type Event struct {
	Type    string    `json:"type"`
	Message string    `json:"message,omitempty"`
	Label   string    `json:"label,omitempty"`
	Data    any       `json:"data,omitempty"`
	Time    time.Time `json:"time"`
}

// Event types.
const (
	TypeHeader         = "header"
	TypeText           = "text"
	TypeJSON           = "json"
	TypeAutopromptDone = "autoprompt_done"
)

// EmitFunc is the sink handed to components that produce terminal events.
// Implementations must be safe to call from multiple goroutines.
type EmitFunc func(Event)

// Bus fans events out to subscribers. Slow subscribers drop events rather
// than block producers. A bounded replay buffer lets new subscribers see
// recent history.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	recent []Event
	keep   int
}

// NewBus creates a bus that retains the given number of recent events for
// replay on subscribe. A non-positive keep disables replay.
func NewBus(keep int) *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
		keep: keep,
	}
}

// Publish delivers an event to all subscribers. The timestamp is filled in
// when unset.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.Lock()
	if b.keep > 0 {
		b.recent = append(b.recent, e)
		if len(b.recent) > b.keep {
			b.recent = b.recent[len(b.recent)-b.keep:]
		}
	}
	subs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			// Subscriber is backed up. Drop instead of stalling the agent.
		}
	}
}

// Subscribe registers a subscriber and returns its event channel, the replay
// of recent events, and a cancel func that closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, []Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	replay := make([]Event, len(b.recent))
	copy(replay, b.recent)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, replay, cancel
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Header publishes a section header event.
func (b *Bus) Header(msg string) {
	b.Publish(Event{Type: TypeHeader, Message: msg})
}

// Text publishes a plain text event.
func (b *Bus) Text(msg string) {
	b.Publish(Event{Type: TypeText, Message: msg})
}

// JSON publishes a labeled structured payload.
func (b *Bus) JSON(label string, data any) {
	b.Publish(Event{Type: TypeJSON, Label: label, Data: data})
}

// Emit satisfies EmitFunc.
func (b *Bus) Emit(e Event) {
	b.Publish(e)
}
