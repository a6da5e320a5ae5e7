package registry

import (
	"sync"
	"time"
)

// Event types published by the registry
const (
	EventSubmitted = "submitted"
	EventClaimed   = "claimed"
	EventDecided   = "decided"
	EventDeferred  = "deferred"
	EventCancelled = "cancelled"
)

// Event describes one registry state change
type Event struct {
	Type      string    `json:"type"`
	TS        time.Time `json:"ts"`
	PatchID   uint64    `json:"patch_id,omitempty"`
	HunkID    uint64    `json:"hunk_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	RepoRef   string    `json:"repo_ref,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
}

// Subscriber is one event listener
type Subscriber struct {
	ID      int
	RepoRef string // Filter: only events for this repo ref (empty = all)
	Ch      chan Event
}

// Broadcaster fans registry events out to subscribers
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int]*Subscriber
	nextID      int
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int]*Subscriber),
		nextID:      1,
	}
}

// Subscribe adds a listener with an optional repo-ref filter.
// Returns the subscriber id and its event channel.
func (b *Broadcaster) Subscribe(repoRef string) (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, 16) // Buffer so slow listeners don't stall the registry
	b.subscribers[id] = &Subscriber{ID: id, RepoRef: repoRef, Ch: ch}
	return id, ch
}

// Unsubscribe removes a listener and closes its channel
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}

// Broadcast sends an event to all matching subscribers.
// Non-blocking: a full subscriber channel drops the event for that subscriber.
func (b *Broadcaster) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.RepoRef != "" && sub.RepoRef != event.RepoRef {
			continue
		}
		select {
		case sub.Ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the current number of subscribers
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
