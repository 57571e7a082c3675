// Package gc implements the expiration-driven sweep: expired record pins go
// first, then records nothing pins anymore, then blob pins that are either
// extended to cover a live dependent record or dropped.
package gc

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/kk-code-lab/recordlake/internal/clock"
	"github.com/kk-code-lab/recordlake/internal/store"
)

// Report summarizes one sweep.
type Report struct {
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	ExpiredPins      int64     `json:"expired_pins"`
	RemovedRecords   int       `json:"removed_records"`
	ExtendedBlobPins int64     `json:"extended_blob_pins"`
	DroppedBlobPins  int64     `json:"dropped_blob_pins"`
	RemovedBlobs     int       `json:"removed_blobs"`
	FileErrors       int       `json:"file_errors,omitempty"`
}

// Sweeper runs the sweep. Runs never overlap; concurrent callers serialize.
type Sweeper struct {
	store *store.Store
	clock clock.Clock

	mu sync.Mutex
}

func New(s *store.Store, c clock.Clock) *Sweeper {
	if c == nil {
		c = clock.System{}
	}
	return &Sweeper{store: s, clock: c}
}

// Run performs one full sweep. Each phase reads expiry and dependency state
// inside the transaction that deletes or extends, so ingestion may proceed
// concurrently. Snapshot and blob files are removed after their rows commit.
func (g *Sweeper) Run(ctx context.Context) (*Report, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	report := &Report{StartedAt: now}
	db := g.store.Meta()
	layout := g.store.Layout()

	expired, err := db.SweepExpiredRecordPins(ctx, now)
	if err != nil {
		return nil, err
	}
	report.ExpiredPins = expired

	orphans, err := db.SweepOrphanRecords(ctx)
	if err != nil {
		return nil, err
	}
	report.RemovedRecords = len(orphans)
	for _, id := range orphans {
		if err := os.Remove(layout.RecordPath(id)); err != nil && !os.IsNotExist(err) {
			report.FileErrors++
		}
	}

	extended, dropped, removedBlobs, err := db.SweepBlobPins(ctx, now)
	if err != nil {
		return nil, err
	}
	report.ExtendedBlobPins = extended
	report.DroppedBlobPins = dropped
	report.RemovedBlobs = len(removedBlobs)
	for _, id := range removedBlobs {
		if err := os.Remove(layout.BlobPath(id)); err != nil && !os.IsNotExist(err) {
			report.FileErrors++
		}
	}

	report.FinishedAt = g.clock.Now()
	return report, nil
}

// Loop sweeps on a fixed interval until the context ends.
func (g *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := g.Run(ctx)
			if err != nil {
				log.Printf("gc sweep error=%v", err)
				continue
			}
			log.Printf("gc expired_pins=%d removed_records=%d extended_blob_pins=%d dropped_blob_pins=%d removed_blobs=%d",
				report.ExpiredPins, report.RemovedRecords, report.ExtendedBlobPins, report.DroppedBlobPins, report.RemovedBlobs)
		}
	}
}
