// Package session tracks live client sessions (spec.md §3/§4.3): one
// record per connected client, indexed by client id, document id, and
// user id.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateClient is returned by Add when client_id already has a live
// session (spec.md §4.3).
var ErrDuplicateClient = errors.New("session: client id already has a live session")

// Status mirrors spec.md's SessionStatus. Offline is reserved for a
// future hand-off (spec.md §4.5) and is treated as equivalent to Active
// for fan-out purposes by this implementation.
type Status int

const (
	StatusActive Status = iota
	StatusOffline
	StatusDisconnected
)

// Session is an immutable-identity, mutable-state record of one live
// client connection. Copies returned by the store are safe to read
// without holding any lock.
type Session struct {
	SessionUUID string
	ClientID    string
	DocumentID  string
	UserID      string

	UserName     string
	UserColor    string
	UserMetadata map[string]string

	CreatedAt  time.Time
	LastSeenAt time.Time
	Status     Status
}

// IsActive reports whether the session counts as active at "now" given
// the expiry threshold, per spec.md §3.
func (s Session) IsActive(now time.Time, threshold time.Duration) bool {
	return s.Status != StatusDisconnected && now.Sub(s.LastSeenAt) <= threshold
}

// Store is the in-memory session store (C3). One RWMutex guards all three
// indices together so multi-index updates (add/remove) stay linearizable,
// following the single-critical-section shape of the corpus's repository
// implementations rather than a lock-free concurrent map per index.
type Store struct {
	mu         sync.RWMutex
	byClient   map[string]*Session
	byDocument map[string]map[string]struct{} // documentID -> set of clientIDs
	byUser     map[string]map[string]struct{} // userID -> set of clientIDs
}

// New returns an empty session store.
func New() *Store {
	return &Store{
		byClient:   make(map[string]*Session),
		byDocument: make(map[string]map[string]struct{}),
		byUser:     make(map[string]map[string]struct{}),
	}
}

// NewSessionUUID generates a fresh session identity.
func NewSessionUUID() string {
	return uuid.NewString()
}

// Add registers a new session, failing with ErrDuplicateClient if the
// client id is already live.
func (s *Store) Add(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byClient[sess.ClientID]; exists {
		return ErrDuplicateClient
	}

	copySess := sess
	s.byClient[sess.ClientID] = &copySess
	s.index(sess.DocumentID, sess.UserID, sess.ClientID)
	return nil
}

func (s *Store) index(documentID, userID, clientID string) {
	if s.byDocument[documentID] == nil {
		s.byDocument[documentID] = make(map[string]struct{})
	}
	s.byDocument[documentID][clientID] = struct{}{}

	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]struct{})
	}
	s.byUser[userID][clientID] = struct{}{}
}

func (s *Store) unindex(documentID, userID, clientID string) {
	if set, ok := s.byDocument[documentID]; ok {
		delete(set, clientID)
		if len(set) == 0 {
			delete(s.byDocument, documentID)
		}
	}
	if set, ok := s.byUser[userID]; ok {
		delete(set, clientID)
		if len(set) == 0 {
			delete(s.byUser, userID)
		}
	}
}

// Get returns a snapshot copy of the session for clientID, if live.
func (s *Store) Get(clientID string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byClient[clientID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// ActiveByDocument returns snapshot copies of every session for
// documentID whose status is Active and whose LastSeenAt is fresh.
func (s *Store) ActiveByDocument(documentID string, now time.Time, threshold time.Duration) []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Session
	for clientID := range s.byDocument[documentID] {
		sess := s.byClient[clientID]
		if sess != nil && sess.IsActive(now, threshold) {
			out = append(out, *sess)
		}
	}
	return out
}

// ByDocument returns snapshot copies of every live session for
// documentID regardless of status, for use by code that already applies
// its own freshness filter.
func (s *Store) ByDocument(documentID string) []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Session
	for clientID := range s.byDocument[documentID] {
		if sess := s.byClient[clientID]; sess != nil {
			out = append(out, *sess)
		}
	}
	return out
}

// ByUser returns snapshot copies of every live session for userID
// (multi-tab query).
func (s *Store) ByUser(userID string) []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Session
	for clientID := range s.byUser[userID] {
		if sess := s.byClient[clientID]; sess != nil {
			out = append(out, *sess)
		}
	}
	return out
}

// Touch refreshes LastSeenAt for clientID; it is a no-op if the client is
// not live.
func (s *Store) Touch(clientID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byClient[clientID]; ok {
		sess.LastSeenAt = now
	}
}

// Remove deletes the session for clientID, returning it if it existed.
func (s *Store) Remove(clientID string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byClient[clientID]
	if !ok {
		return Session{}, false
	}
	delete(s.byClient, clientID)
	s.unindex(sess.DocumentID, sess.UserID, clientID)
	return *sess, true
}

// Sweep removes and returns every session whose LastSeenAt is older than
// threshold relative to now.
func (s *Store) Sweep(now time.Time, threshold time.Duration) []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Session
	for clientID, sess := range s.byClient {
		if now.Sub(sess.LastSeenAt) > threshold {
			expired = append(expired, *sess)
			delete(s.byClient, clientID)
			s.unindex(sess.DocumentID, sess.UserID, clientID)
		}
	}
	return expired
}
