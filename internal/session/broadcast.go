package session

import "sync"

// EventKind classifies a session change.
type EventKind string

const (
	// EventCommitted means a complete snapshot was stored.
	EventCommitted EventKind = "committed"
	// EventCleared means the session was destroyed.
	EventCleared EventKind = "cleared"
)

// Event describes one session change.
type Event struct {
	SID  string
	Kind EventKind
}

// Broadcaster is an explicit publish/subscribe channel for session
// changes. It replaces ambient storage-change events: any consumer that
// must re-derive its view of a session subscribes here.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a consumer. The returned cancel function must be
// called to release the subscription.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 8)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber. Delivery is best effort:
// a subscriber that has fallen behind misses the event rather than
// blocking the publisher.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
