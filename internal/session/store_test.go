package session

import (
	"testing"
	"time"
)

func newSession(client, doc, user string, lastSeen time.Time) Session {
	return Session{
		SessionUUID: NewSessionUUID(),
		ClientID:    client,
		DocumentID:  doc,
		UserID:      user,
		CreatedAt:   lastSeen,
		LastSeenAt:  lastSeen,
		Status:      StatusActive,
	}
}

func TestAddDuplicateClientRejected(t *testing.T) {
	s := New()
	now := time.Now()
	if err := s.Add(newSession("c1", "d1", "alice", now)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if err := s.Add(newSession("c1", "d1", "alice", now)); err != ErrDuplicateClient {
		t.Fatalf("expected ErrDuplicateClient, got %v", err)
	}
}

func TestRemoveThenAbsentFromActiveByDocument(t *testing.T) {
	s := New()
	now := time.Now()
	if err := s.Add(newSession("c1", "d1", "alice", now)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, ok := s.Remove("c1"); !ok {
		t.Fatal("expected removal to find the session")
	}
	active := s.ActiveByDocument("d1", now, time.Minute)
	if len(active) != 0 {
		t.Fatalf("expected no active sessions after remove, got %d", len(active))
	}
}

func TestSweepExpiresStale(t *testing.T) {
	s := New()
	now := time.Now()
	stale := now.Add(-2 * time.Minute)
	if err := s.Add(newSession("stale", "d1", "bob", stale)); err != nil {
		t.Fatalf("add stale: %v", err)
	}
	if err := s.Add(newSession("fresh", "d1", "bob", now)); err != nil {
		t.Fatalf("add fresh: %v", err)
	}

	expired := s.Sweep(now, time.Minute)
	if len(expired) != 1 || expired[0].ClientID != "stale" {
		t.Fatalf("expected only 'stale' to expire, got %+v", expired)
	}

	active := s.ActiveByDocument("d1", now, time.Minute)
	if len(active) != 1 || active[0].ClientID != "fresh" {
		t.Fatalf("expected only 'fresh' to remain active, got %+v", active)
	}
}

func TestTouchRefreshesLastSeen(t *testing.T) {
	s := New()
	start := time.Now().Add(-time.Hour)
	if err := s.Add(newSession("c1", "d1", "alice", start)); err != nil {
		t.Fatalf("add: %v", err)
	}
	later := time.Now()
	s.Touch("c1", later)
	got, ok := s.Get("c1")
	if !ok {
		t.Fatal("expected session to still exist")
	}
	if !got.LastSeenAt.Equal(later) {
		t.Fatalf("LastSeenAt = %v, want %v", got.LastSeenAt, later)
	}
}

func TestTouchAbsentIsNoop(t *testing.T) {
	s := New()
	s.Touch("nope", time.Now()) // must not panic
}

func TestByUserMultiTab(t *testing.T) {
	s := New()
	now := time.Now()
	if err := s.Add(newSession("tab1", "d1", "alice", now)); err != nil {
		t.Fatalf("add tab1: %v", err)
	}
	if err := s.Add(newSession("tab2", "d1", "alice", now)); err != nil {
		t.Fatalf("add tab2: %v", err)
	}
	sessions := s.ByUser("alice")
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions for alice, got %d", len(sessions))
	}
}
