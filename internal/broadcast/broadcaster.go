// Package broadcast fans out CollaborationEvents to subscribed sessions
// per document (spec.md §4.4), generalizing the register/unregister/
// broadcast hub pattern retrieved from the teacher's companion agent
// (sumanthd032-CollabText/agent's Hub) from one flat client map to one
// subscriber set per document, and replacing its disconnect-on-full
// policy with drop-oldest-and-count.
package broadcast

import (
	"sync"

	"collabhub/internal/events"
)

// DefaultBufferSize is the per-subscriber channel capacity. Once full,
// Publish drops the oldest queued event for that subscriber rather than
// blocking (spec.md §4.4/§5).
const DefaultBufferSize = 64

// Subscription is a live, ordered delivery channel for one client on one
// document. Events() yields events in publish order; Unsubscribe is
// idempotent.
type Subscription struct {
	ClientID   string
	DocumentID string

	events chan events.CollaborationEvent
	b      *Broadcaster

	mu        sync.Mutex
	closed    bool
	dropCount uint64
}

// Events returns the channel events are delivered on.
func (s *Subscription) Events() <-chan events.CollaborationEvent { return s.events }

// Dropped returns how many events have been dropped for this subscriber
// due to a full buffer.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropCount
}

// Unsubscribe removes this subscription from its document's subscriber
// set. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.b.unsubscribe(s)
}

type documentTopic struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Broadcaster is the event broadcaster (C4): one documentTopic per
// document id, each owning its own subscriber set.
type Broadcaster struct {
	mu     sync.RWMutex
	topics map[string]*documentTopic

	// OnPublish, if set, is invoked after local fan-out with the same
	// arguments Publish received. It lets an optional cross-instance relay
	// (e.g. internal/store/redisbus) observe every publish without the
	// broadcaster depending on how events leave this process.
	OnPublish func(event events.CollaborationEvent, excludeClientID string)
}

// New returns an empty broadcaster.
func New() *Broadcaster {
	return &Broadcaster{topics: make(map[string]*documentTopic)}
}

func (b *Broadcaster) topic(documentID string) *documentTopic {
	b.mu.RLock()
	t, ok := b.topics[documentID]
	b.mu.RUnlock()
	if ok {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[documentID]; ok {
		return t
	}
	t = &documentTopic{subs: make(map[*Subscription]struct{})}
	b.topics[documentID] = t
	return t
}

// Subscribe creates an ordered delivery channel for clientID on
// documentID. The subscription receives every event published for that
// document after this call returns.
func (b *Broadcaster) Subscribe(documentID, clientID string) *Subscription {
	t := b.topic(documentID)
	sub := &Subscription{
		ClientID:   clientID,
		DocumentID: documentID,
		events:     make(chan events.CollaborationEvent, DefaultBufferSize),
		b:          b,
	}
	t.mu.Lock()
	t.subs[sub] = struct{}{}
	t.mu.Unlock()
	return sub
}

func (b *Broadcaster) unsubscribe(sub *Subscription) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	sub.mu.Unlock()

	b.mu.RLock()
	t, ok := b.topics[sub.DocumentID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.subs, sub)
	t.mu.Unlock()
}

// Publish delivers event to every current subscriber of event.DocumentID
// except excludeClientID (pass "" to exclude no one), then invokes
// OnPublish if set. Publish never blocks: a full subscriber channel has its
// oldest queued event dropped (and counted) to make room for the new one.
func (b *Broadcaster) Publish(event events.CollaborationEvent, excludeClientID string) {
	b.deliverLocally(event, excludeClientID)
	if b.OnPublish != nil {
		b.OnPublish(event, excludeClientID)
	}
}

// PublishLocal delivers event to local subscribers only, without invoking
// OnPublish. A cross-instance relay (internal/store/redisbus) uses this to
// feed remote events into this process without bouncing them back out.
func (b *Broadcaster) PublishLocal(event events.CollaborationEvent, excludeClientID string) {
	b.deliverLocally(event, excludeClientID)
}

func (b *Broadcaster) deliverLocally(event events.CollaborationEvent, excludeClientID string) {
	b.mu.RLock()
	t, ok := b.topics[event.DocumentID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	t.mu.Lock()
	targets := make([]*Subscription, 0, len(t.subs))
	for sub := range t.subs {
		if sub.ClientID == excludeClientID {
			continue
		}
		targets = append(targets, sub)
	}
	t.mu.Unlock()

	for _, sub := range targets {
		deliver(sub, event)
	}
}

func deliver(sub *Subscription, event events.CollaborationEvent) {
	select {
	case sub.events <- event:
		return
	default:
	}

	// Buffer full: drop the oldest queued event to make room, then retry
	// once. If even that races with another publisher, skip rather than
	// block — publish must never block on a slow consumer.
	select {
	case <-sub.events:
		sub.mu.Lock()
		sub.dropCount++
		sub.mu.Unlock()
	default:
	}
	select {
	case sub.events <- event:
	default:
	}
}

// SubscriberCount returns how many live subscriptions exist for
// documentID (diagnostics/tests only).
func (b *Broadcaster) SubscriberCount(documentID string) int {
	b.mu.RLock()
	t, ok := b.topics[documentID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
