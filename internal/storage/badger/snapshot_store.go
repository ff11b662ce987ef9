// -----------------------------------------------------------------------
// Snapshot Store - Last observed state per job, for the monitor UI
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/fancymatt/life-os-sub005/internal/models"
)

// SnapshotStore persists the most recent state seen for each job. Rows are
// upserted on every feed event and pruned on a schedule, so the table stays
// bounded by the retention window.
type SnapshotStore struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSnapshotStore creates a snapshot store on an open connection
func NewSnapshotStore(db *BadgerDB, logger arbor.ILogger) *SnapshotStore {
	return &SnapshotStore{
		db:     db,
		logger: logger,
	}
}

// Record upserts the row for this job's id with the event's state
func (s *SnapshotStore) Record(ctx context.Context, job models.Job) error {
	snap := models.SnapshotFromJob(job, time.Now())
	if err := s.db.Store().Upsert(snap.JobID, snap); err != nil {
		return fmt.Errorf("failed to record job snapshot: %w", err)
	}
	return nil
}

// Get returns the last observed state for one job
func (s *SnapshotStore) Get(ctx context.Context, jobID string) (*models.JobSnapshot, error) {
	var snap models.JobSnapshot
	if err := s.db.Store().Get(jobID, &snap); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job snapshot: %w", err)
	}
	return &snap, nil
}

// ListRecent returns up to limit snapshots, most recently seen first
func (s *SnapshotStore) ListRecent(ctx context.Context, limit int) ([]models.JobSnapshot, error) {
	query := badgerhold.Where("JobID").Ne("").SortBy("SeenAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var snaps []models.JobSnapshot
	if err := s.db.Store().Find(&snaps, query); err != nil {
		return nil, fmt.Errorf("failed to list job snapshots: %w", err)
	}
	return snaps, nil
}

// Count returns the number of stored snapshots
func (s *SnapshotStore) Count(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.JobSnapshot{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count job snapshots: %w", err)
	}
	return int(count), nil
}

// Prune deletes snapshots not seen within the retention window and returns
// how many were removed.
func (s *SnapshotStore) Prune(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)

	before, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}

	if err := s.db.Store().DeleteMatching(&models.JobSnapshot{}, badgerhold.Where("SeenAt").Lt(cutoff)); err != nil {
		return 0, fmt.Errorf("failed to prune job snapshots: %w", err)
	}

	after, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}

	removed := before - after
	if removed > 0 {
		s.logger.Debug().
			Int("removed", removed).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Pruned stale job snapshots")
	}
	return removed, nil
}
