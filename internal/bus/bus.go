// Package bus fans sync state and task change notifications out to the
// components that display them. Delivery is in-process and lossy: a
// subscriber that falls behind misses events instead of stalling the
// publisher, which may be holding the engine's state lock.
package bus

import "sync"

// Topics.
const (
	// TopicSyncStateChanged carries an engine.State snapshot.
	TopicSyncStateChanged = "sync.state_changed"
	// TopicTasksChanged carries a TasksChangedEvent.
	TopicTasksChanged = "tasks.changed"
)

// Change sources reported in TasksChangedEvent.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// TasksChangedEvent is published after a local edit or a completed pull.
type TasksChangedEvent struct {
	Source string // SourceLocal or SourceRemote
}

// Event is one published notification.
type Event struct {
	Topic   string
	Payload any
}

const subscriberBuffer = 64

// Subscription receives the events for the topics it was created with.
type Subscription struct {
	topics map[string]bool // nil: every topic
	ch     chan Event
}

// Events returns the delivery channel. It is closed by Unsubscribe.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func (s *Subscription) wants(topic string) bool {
	return s.topics == nil || s.topics[topic]
}

// Bus delivers published events to matching subscriptions.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers for the given topics, or for every topic when none are
// named.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{ch: make(chan Event, subscriberBuffer)}
	if len(topics) > 0 {
		sub.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub and closes its channel. Repeated calls are no-ops.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish hands the event to every matching subscription without blocking;
// a full subscription drops it.
func (b *Bus) Publish(topic string, payload any) {
	ev := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.wants(topic) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
