package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/fancymatt/life-os-sub005/internal/common"
	"github.com/fancymatt/life-os-sub005/internal/models"
)

func newTestStore(t *testing.T) *SnapshotStore {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSnapshotStore(db, logger)
}

func jobWithStatus(id string, status models.JobStatus, progress float64) models.Job {
	return models.Job{
		ID:       id,
		Status:   status,
		Progress: progress,
		Metadata: map[string]interface{}{
			"entityType": "character",
			"entityId":   "char-9",
		},
	}
}

func TestRecordAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, jobWithStatus("job-1", models.JobStatusRunning, 0.4)))

	snap, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "job-1", snap.JobID)
	assert.Equal(t, "running", snap.Status)
	assert.Equal(t, 0.4, snap.Progress)
	assert.Equal(t, "character", snap.EntityType)
	assert.Equal(t, "char-9", snap.EntityID)
	assert.False(t, snap.SeenAt.IsZero())
}

func TestRecordUpsertsLatestState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, jobWithStatus("job-1", models.JobStatusRunning, 0.4)))
	require.NoError(t, store.Record(ctx, jobWithStatus("job-1", models.JobStatusCompleted, 1)))

	snap, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "completed", snap.Status)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordNormalizesLegacyStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, jobWithStatus("job-1", models.JobStatusPending, 0)))

	snap, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "queued", snap.Status)
}

func TestGetMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)

	snap, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestListRecentOrdersAndLimits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		require.NoError(t, store.Record(ctx, jobWithStatus(id, models.JobStatusRunning, 0)))
		time.Sleep(2 * time.Millisecond) // distinct SeenAt values
	}

	snaps, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "job-3", snaps[0].JobID)
	assert.Equal(t, "job-2", snaps[1].JobID)

	all, err := store.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPruneRemovesStaleRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Insert a row with an old SeenAt directly; Record always stamps now.
	old := models.JobSnapshot{
		JobID:  "stale-1",
		Status: "completed",
		SeenAt: time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, store.db.Store().Upsert(old.JobID, old))
	require.NoError(t, store.Record(ctx, jobWithStatus("fresh-1", models.JobStatusRunning, 0.5)))

	removed, err := store.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	snap, err := store.Get(ctx, "stale-1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	snap, err = store.Get(ctx, "fresh-1")
	require.NoError(t, err)
	assert.NotNil(t, snap)
}

func TestPruneNothingToDo(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, jobWithStatus("job-1", models.JobStatusRunning, 0)))

	removed, err := store.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

// Guard against badgerhold API drift: the store must report ErrNotFound for
// missing keys, which Get translates to nil.
func TestUnderlyingNotFound(t *testing.T) {
	store := newTestStore(t)

	var snap models.JobSnapshot
	err := store.db.Store().Get("missing", &snap)
	assert.Equal(t, badgerhold.ErrNotFound, err)
}
