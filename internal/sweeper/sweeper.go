// Package sweeper runs the two periodic background tasks of the expiry
// sweeper (C8, spec.md §4.8): session expiry and idle document eviction,
// plus an optional third task that snapshots live documents.
package sweeper

import (
	"context"
	"log"
	"time"

	"collabhub/internal/collab"
	"collabhub/internal/registry"
)

// Sweeper owns the periodic tasks. cmd/collabhubd fills the durations from
// config.FromEnv, which supplies spec.md's defaults for unset variables;
// Run requires Interval and DocumentSweepInterval to be positive.
type Sweeper struct {
	UseCases              *collab.UseCases
	Documents             *registry.Registry
	Interval              time.Duration
	DocumentSweepInterval time.Duration
	DocumentTTL           time.Duration

	// SnapshotInterval and SnapshotSaver, if both set, drive a third
	// periodic task that compacts every live document's CRDT replica into
	// the optional postgres snapshot table (internal/store/postgres),
	// keeping a cold-start rehydration point without a per-update write.
	SnapshotInterval time.Duration
	SnapshotSaver    func(documentID string, stateVector, full []byte)
}

// Run blocks, driving the periodic tasks until ctx is canceled. It is meant
// to be run in its own goroutine (or under an errgroup) from
// cmd/collabhubd.
func (s *Sweeper) Run(ctx context.Context) {
	sessionTicker := time.NewTicker(s.Interval)
	defer sessionTicker.Stop()

	docTicker := time.NewTicker(s.DocumentSweepInterval)
	defer docTicker.Stop()

	var snapshotTicker *time.Ticker
	var snapshotC <-chan time.Time
	if s.SnapshotSaver != nil && s.SnapshotInterval > 0 {
		snapshotTicker = time.NewTicker(s.SnapshotInterval)
		defer snapshotTicker.Stop()
		snapshotC = snapshotTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionTicker.C:
			s.sweepSessions()
		case <-docTicker.C:
			s.sweepDocuments()
		case <-snapshotC:
			s.snapshotDocuments()
		}
	}
}

func (s *Sweeper) snapshotDocuments() {
	for _, id := range s.Documents.DocumentIDs() {
		sv, full, err := s.Documents.Snapshot(id)
		if err != nil {
			continue
		}
		s.SnapshotSaver(id, sv, full)
	}
}

func (s *Sweeper) sweepSessions() {
	expired := s.UseCases.CleanupExpiredSessions()
	if len(expired) > 0 {
		log.Printf("sweeper: expired %d session(s)", len(expired))
	}
}

func (s *Sweeper) sweepDocuments() {
	removed := s.Documents.SweepIdle(time.Now(), s.DocumentTTL)
	if len(removed) > 0 {
		log.Printf("sweeper: evicted %d idle document(s): %v", len(removed), removed)
	}
}
