package models

import "time"

// JobSnapshot is the last state observed for one job on the feed. The
// snapshot table holds current state only, one row per job id; it is not
// an event log and is never replayed to listeners.
type JobSnapshot struct {
	JobID      string  `badgerhold:"key" json:"job_id"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	EntityType string  `json:"entity_type,omitempty"`
	EntityID   string  `json:"entity_id,omitempty"`
	Error      string  `json:"error,omitempty"`

	UpdatedAt time.Time `json:"updated_at"` // producer timestamp, if the event carried one
	SeenAt    time.Time `json:"seen_at"`    // when this process observed the event
}

// SnapshotFromJob builds the stored row for a feed event
func SnapshotFromJob(job Job, seenAt time.Time) JobSnapshot {
	snap := JobSnapshot{
		JobID:     job.ID,
		Status:    string(job.Status.Normalize()),
		Progress:  job.Progress,
		Error:     job.Error,
		UpdatedAt: job.UpdatedAt,
		SeenAt:    seenAt,
	}
	if v, ok := job.MetadataString("entityType"); ok {
		snap.EntityType = v
	}
	if v, ok := job.MetadataString("entityId"); ok {
		snap.EntityID = v
	}
	return snap
}
