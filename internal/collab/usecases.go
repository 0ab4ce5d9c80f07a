// Package collab holds the single façade the streaming adapters call
// (spec.md §4.5, component C5): join/leave/update/awareness/sync
// orchestration over the CRDT document, the registry, the session store,
// and the broadcaster.
package collab

import (
	"log"
	"time"

	"collabhub/internal/broadcast"
	"collabhub/internal/events"
	"collabhub/internal/registry"
	"collabhub/internal/session"
)

// Clock abstracts time.Now so tests can control it; production code uses
// RealClock.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// UseCases is the C5 façade. Every public method corresponds 1:1 to an
// operation in spec.md §4.5.
type UseCases struct {
	Sessions  *session.Store
	Documents *registry.Registry
	Events    *broadcast.Broadcaster
	Clock     Clock

	// ExpiryThreshold is the session freshness window used by
	// ActiveByDocument/IsActive checks (spec.md §3/§8 scenario 5).
	ExpiryThreshold time.Duration

	// Persist, if set, is called after a DocumentUpdated event's update has
	// been applied to the in-memory CRDT, outside the document's
	// serialization lock, and only when the update integrated at least one
	// new operation. It feeds the optional postgres append-log
	// (internal/store/postgres); the in-memory document remains the source
	// of truth, so Persist runs off the hot path and its errors are the
	// caller's concern, not this façade's.
	Persist func(documentID string, update []byte, appliedAtUnix int64)
}

// JoinDocument creates a session in Active and publishes UserJoined.
// Joins are broadcast to everyone including the newcomer, per spec.md
// §4.4, to simplify client reconciliation.
func (u *UseCases) JoinDocument(clientID, documentID, userID, userName, userColor string, metadata map[string]string) (events.CollaborationEvent, error) {
	if clientID == "" || documentID == "" || userID == "" {
		return events.CollaborationEvent{}, ErrInvalidUpdate
	}

	now := u.Clock.Now()
	sess := session.Session{
		SessionUUID:  session.NewSessionUUID(),
		ClientID:     clientID,
		DocumentID:   documentID,
		UserID:       userID,
		UserName:     userName,
		UserColor:    userColor,
		UserMetadata: metadata,
		CreatedAt:    now,
		LastSeenAt:   now,
		Status:       session.StatusActive,
	}
	if err := u.Sessions.Add(sess); err != nil {
		return events.CollaborationEvent{}, err
	}
	u.Documents.Acquire(documentID)

	event := events.CollaborationEvent{
		Type:         events.EventUserJoined,
		DocumentID:   documentID,
		ClientID:     clientID,
		Timestamp:    now,
		UserID:       userID,
		UserName:     userName,
		UserColor:    userColor,
		UserMetadata: metadata,
	}
	u.Events.Publish(event, "")
	return event, nil
}

// LeaveDocument removes the session for clientID and, if it existed,
// publishes UserLeft.
func (u *UseCases) LeaveDocument(clientID string) (events.CollaborationEvent, bool) {
	sess, ok := u.Sessions.Remove(clientID)
	if !ok {
		return events.CollaborationEvent{}, false
	}
	u.Documents.Release(sess.DocumentID)

	event := events.CollaborationEvent{
		Type:       events.EventUserLeft,
		DocumentID: sess.DocumentID,
		ClientID:   clientID,
		Timestamp:  u.Clock.Now(),
		UserID:     sess.UserID,
	}
	u.Events.Publish(event, "")
	return event, true
}

// HandleDocumentUpdate applies an update to the session's document and
// publishes DocumentUpdated with a per-document monotonic sequence
// number, excluding the originator from delivery.
func (u *UseCases) HandleDocumentUpdate(clientID string, update []byte) (events.CollaborationEvent, error) {
	sess, ok := u.Sessions.Get(clientID)
	if !ok {
		return events.CollaborationEvent{}, ErrSessionNotFound
	}
	now := u.Clock.Now()
	u.Sessions.Touch(clientID, now) // heartbeat semantics: the touch stays even if the update below is invalid

	entry := u.Documents.GetOrCreate(sess.DocumentID)
	entry.Lock()
	applied, err := entry.Document.ApplyUpdate(update)
	if err != nil {
		entry.Unlock()
		return events.CollaborationEvent{}, ErrInvalidUpdate
	}
	seq := entry.NextSequence()
	entry.Unlock()
	u.Documents.Touch(sess.DocumentID)

	event := events.CollaborationEvent{
		Type:           events.EventDocumentUpdated,
		DocumentID:     sess.DocumentID,
		ClientID:       clientID,
		Timestamp:      now,
		UpdateBytes:    applied,
		OriginClientID: clientID,
		SequenceNumber: seq,
	}
	u.Events.Publish(event, clientID)
	if u.Persist != nil && len(applied) > 0 {
		go func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("collab: recovered panic in persist goroutine: %v", rec)
				}
			}()
			u.Persist(sess.DocumentID, applied, now.Unix())
		}()
	}
	return event, nil
}

// HandleAwarenessUpdate touches the session and publishes
// AwarenessUpdated. Awareness payloads are opaque JSON strings, so this
// never fails on semantic content.
func (u *UseCases) HandleAwarenessUpdate(clientID, userInfoJSON, awarenessStateJSON string) (events.CollaborationEvent, error) {
	sess, ok := u.Sessions.Get(clientID)
	if !ok {
		return events.CollaborationEvent{}, ErrSessionNotFound
	}
	now := u.Clock.Now()
	u.Sessions.Touch(clientID, now)

	event := events.CollaborationEvent{
		Type:               events.EventAwarenessUpdated,
		DocumentID:         sess.DocumentID,
		ClientID:           clientID,
		Timestamp:          now,
		UserInfoJSON:       userInfoJSON,
		AwarenessStateJSON: awarenessStateJSON,
	}
	u.Events.Publish(event, clientID)
	return event, nil
}

// HandleHeartbeat touches LastSeenAt and emits no event.
func (u *UseCases) HandleHeartbeat(clientID string) error {
	if _, ok := u.Sessions.Get(clientID); !ok {
		return ErrSessionNotFound
	}
	u.Sessions.Touch(clientID, u.Clock.Now())
	return nil
}

// SyncResult is the result of GetSyncData.
type SyncResult struct {
	ServerStateVector []byte
	Diff              []byte
	Event             events.CollaborationEvent
}

// GetSyncData returns the server's current state vector and the update
// that brings the peer from peerStateVector to current, and publishes
// SyncRequested. Per the open question in spec.md §9, this implementation
// broadcasts SyncRequested to other sessions (see DESIGN.md).
func (u *UseCases) GetSyncData(clientID string, peerStateVector []byte) (SyncResult, error) {
	sess, ok := u.Sessions.Get(clientID)
	if !ok {
		return SyncResult{}, ErrSessionNotFound
	}

	entry := u.Documents.GetOrCreate(sess.DocumentID)
	entry.Lock()
	sv := entry.Document.StateVector()
	diff, err := entry.Document.EncodeDiff(peerStateVector)
	entry.Unlock()
	if err != nil {
		return SyncResult{}, ErrInvalidUpdate
	}

	event := events.CollaborationEvent{
		Type:        events.EventSyncRequested,
		DocumentID:  sess.DocumentID,
		ClientID:    clientID,
		Timestamp:   u.Clock.Now(),
		StateVector: peerStateVector,
	}
	u.Events.Publish(event, clientID)

	return SyncResult{ServerStateVector: sv, Diff: diff, Event: event}, nil
}

// DocumentState is the result of GetDocumentState.
type DocumentState struct {
	StateVector  []byte
	FullDocument []byte
	Sessions     []session.Session
}

// GetDocumentState is a pure read; it does not require an active session.
func (u *UseCases) GetDocumentState(documentID string) (DocumentState, error) {
	sv, full, err := u.Documents.Snapshot(documentID)
	if err != nil {
		return DocumentState{}, err
	}
	sessions := u.Sessions.ActiveByDocument(documentID, u.Clock.Now(), u.ExpiryThreshold)
	return DocumentState{StateVector: sv, FullDocument: full, Sessions: sessions}, nil
}

// GetActiveUsers is a pure read, filtering by session status and
// freshness.
func (u *UseCases) GetActiveUsers(documentID string) []session.Session {
	return u.Sessions.ActiveByDocument(documentID, u.Clock.Now(), u.ExpiryThreshold)
}

// CleanupExpiredSessions sweeps the session store and publishes one
// SessionExpired event per removed session, followed by a UserLeft event
// so that remaining subscribers reconcile presence the same way they
// would for a voluntary leave (spec.md §8 scenario 5).
func (u *UseCases) CleanupExpiredSessions() []events.CollaborationEvent {
	now := u.Clock.Now()
	expired := u.Sessions.Sweep(now, u.ExpiryThreshold)

	out := make([]events.CollaborationEvent, 0, len(expired)*2)
	for _, sess := range expired {
		u.Documents.Release(sess.DocumentID)
		expiredEvent := events.CollaborationEvent{
			Type:       events.EventSessionExpired,
			DocumentID: sess.DocumentID,
			ClientID:   sess.ClientID,
			Timestamp:  now,
			UserID:     sess.UserID,
		}
		u.Events.Publish(expiredEvent, "")
		out = append(out, expiredEvent)

		leftEvent := events.CollaborationEvent{
			Type:       events.EventUserLeft,
			DocumentID: sess.DocumentID,
			ClientID:   sess.ClientID,
			Timestamp:  now,
			UserID:     sess.UserID,
		}
		u.Events.Publish(leftEvent, "")
		out = append(out, leftEvent)
	}
	return out
}
