// Package registry maps document ids to live CRDT documents (spec.md
// §4.2): get-or-create, subscriber refcounting, and idle eviction.
package registry

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"collabhub/internal/crdt"
)

// ErrDocumentNotFound is returned by Get when documentID has no live
// entry (spec.md §4.2).
var ErrDocumentNotFound = errors.New("registry: document not found")

// Entry is the registry's per-document bookkeeping (spec.md's
// DocumentEntry): the CRDT replica, its own serialization lock, the
// subscriber refcount, and the last-activity timestamp used for idle
// eviction.
type Entry struct {
	DocumentID string
	Document   *crdt.CollaborativeDocument

	mu              sync.Mutex
	subscriberCount int
	lastActivityAt  time.Time
	nextSequence    int64
}

// Lock serializes mutation of the entry's CRDT replica and its sequence
// counter. Callers must release before publishing to the broadcaster
// (spec.md §5: "the guard is released before publishing").
func (e *Entry) Lock()   { e.mu.Lock() }
func (e *Entry) Unlock() { e.mu.Unlock() }

// NextSequence returns the next monotonically increasing sequence number
// for a DocumentUpdated event on this entry. Callers must hold Lock().
func (e *Entry) NextSequence() int64 {
	e.nextSequence++
	return e.nextSequence
}

func (e *Entry) touch(now time.Time) {
	e.mu.Lock()
	e.lastActivityAt = now
	e.mu.Unlock()
}

// Registry is the document registry (C2): a fine-grained map from
// document id to Entry, with idle-TTL eviction.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	creating singleflight.Group // collapses concurrent get-or-create calls

	// Loader, if set, is consulted once per cold-started document id to
	// rehydrate it from an external store (internal/store/postgres) before
	// the new entry is handed to any caller. A miss (ok=false) leaves the
	// document empty, matching spec.md §6's in-memory default.
	Loader func(documentID string) (snapshot []byte, ok bool)
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// GetOrCreate returns the entry for documentID, creating it if absent.
// Concurrent callers for the same id are collapsed by singleflight so
// they all observe the same *Entry, satisfying spec.md's atomicity
// requirement without a registry-wide lock held across document creation.
func (r *Registry) GetOrCreate(documentID string) *Entry {
	r.mu.RLock()
	if e, ok := r.entries[documentID]; ok {
		r.mu.RUnlock()
		return e
	}
	r.mu.RUnlock()

	v, _, _ := r.creating.Do(documentID, func() (any, error) {
		r.mu.RLock()
		e, ok := r.entries[documentID]
		r.mu.RUnlock()
		if ok {
			return e, nil
		}
		e = &Entry{
			DocumentID:     documentID,
			Document:       crdt.New(),
			lastActivityAt: time.Now(),
		}
		if r.Loader != nil {
			if snapshot, ok := r.Loader(documentID); ok {
				if _, err := e.Document.ApplyUpdate(snapshot); err != nil {
					// A corrupt or stale snapshot degrades to an empty
					// document rather than failing the get-or-create.
					e.Document = crdt.New()
				}
			}
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.entries[documentID]; ok {
			return existing, nil
		}
		r.entries[documentID] = e
		return e, nil
	})
	return v.(*Entry)
}

// Get returns the entry for documentID without creating one.
func (r *Registry) Get(documentID string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[documentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return e, nil
}

// Acquire increments documentID's subscriber count and marks the entry as
// recently active.
func (r *Registry) Acquire(documentID string) {
	e := r.GetOrCreate(documentID)
	e.mu.Lock()
	e.subscriberCount++
	e.lastActivityAt = time.Now()
	e.mu.Unlock()
}

// Release decrements documentID's subscriber count. It is a no-op if the
// document is unknown (already evicted).
func (r *Registry) Release(documentID string) {
	r.mu.RLock()
	e, ok := r.entries[documentID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	if e.subscriberCount > 0 {
		e.subscriberCount--
	}
	e.lastActivityAt = time.Now()
	e.mu.Unlock()
}

// Touch marks documentID as recently active without changing its
// subscriber count (used after applying an update).
func (r *Registry) Touch(documentID string) {
	if e, err := r.Get(documentID); err == nil {
		e.touch(time.Now())
	}
}

// Snapshot returns (state_vector, encode_full) for documentID taken
// under the document's own serialization lock, or ErrDocumentNotFound.
func (r *Registry) Snapshot(documentID string) (stateVector, full []byte, err error) {
	e, err := r.Get(documentID)
	if err != nil {
		return nil, nil, err
	}
	e.Lock()
	defer e.Unlock()
	return e.Document.StateVector(), e.Document.EncodeFull(), nil
}

// SweepIdle removes every entry whose subscriber count is zero and whose
// last activity is older than ttl relative to now, returning the removed
// document ids.
func (r *Registry) SweepIdle(now time.Time, ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for id, e := range r.entries {
		e.mu.Lock()
		idle := e.subscriberCount == 0 && now.Sub(e.lastActivityAt) > ttl
		e.mu.Unlock()
		if idle {
			delete(r.entries, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Len reports the number of live entries (diagnostics/tests only).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// DocumentIDs returns every currently live document id, for callers that
// periodically sweep or snapshot the whole registry (internal/sweeper).
func (r *Registry) DocumentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
