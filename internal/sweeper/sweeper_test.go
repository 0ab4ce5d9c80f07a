package sweeper

import (
	"testing"
	"time"

	"collabhub/internal/broadcast"
	"collabhub/internal/collab"
	"collabhub/internal/registry"
	"collabhub/internal/session"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestSweepSessionsExpiresPastThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	uc := &collab.UseCases{
		Sessions:        session.New(),
		Documents:       registry.New(),
		Events:          broadcast.New(),
		Clock:           clock,
		ExpiryThreshold: time.Minute,
	}
	if _, err := uc.JoinDocument("client-1", "doc-1", "alice", "Alice", "#fff", nil); err != nil {
		t.Fatalf("JoinDocument: %v", err)
	}

	s := &Sweeper{UseCases: uc, Documents: uc.Documents, Interval: time.Second, DocumentSweepInterval: time.Second, DocumentTTL: time.Hour}

	clock.now = clock.now.Add(30 * time.Second)
	s.sweepSessions()
	if _, ok := uc.Sessions.Get("client-1"); !ok {
		t.Fatal("expected session to survive a sweep before its threshold elapsed")
	}

	clock.now = clock.now.Add(2 * time.Minute)
	s.sweepSessions()
	if _, ok := uc.Sessions.Get("client-1"); ok {
		t.Fatal("expected session to be swept once past ExpiryThreshold")
	}
}

func TestSnapshotDocumentsInvokesSaverForEveryLiveDocument(t *testing.T) {
	reg := registry.New()
	reg.GetOrCreate("doc-1")
	reg.GetOrCreate("doc-2")

	uc := &collab.UseCases{
		Sessions:        session.New(),
		Documents:       reg,
		Events:          broadcast.New(),
		Clock:           &fakeClock{now: time.Now()},
		ExpiryThreshold: time.Minute,
	}
	saved := make(map[string]bool)
	s := &Sweeper{
		UseCases:         uc,
		Documents:        reg,
		SnapshotInterval: time.Second,
		SnapshotSaver: func(documentID string, _, _ []byte) {
			saved[documentID] = true
		},
	}

	s.snapshotDocuments()

	if !saved["doc-1"] || !saved["doc-2"] {
		t.Fatalf("expected both documents to be snapshotted, got %v", saved)
	}
}

func TestSweepDocumentsEvictsIdleEntries(t *testing.T) {
	reg := registry.New()
	reg.GetOrCreate("doc-1")

	uc := &collab.UseCases{
		Sessions:        session.New(),
		Documents:       reg,
		Events:          broadcast.New(),
		Clock:           &fakeClock{now: time.Now()},
		ExpiryThreshold: time.Minute,
	}
	s := &Sweeper{UseCases: uc, Documents: reg, Interval: time.Second, DocumentSweepInterval: time.Second, DocumentTTL: 0}

	s.sweepDocuments()
	if _, err := reg.Get("doc-1"); err == nil {
		t.Fatal("expected a zero-TTL sweep to evict the idle, unacquired document")
	}
}
