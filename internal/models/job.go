// -----------------------------------------------------------------------
// Job Snapshot - Read-only view of one background unit of work
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus represents the state of a background job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusPending   JobStatus = "pending" // legacy synonym of "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Normalize maps legacy status names onto their canonical form.
// Older producers enqueue jobs as "pending"; newer ones use "queued".
func (s JobStatus) Normalize() JobStatus {
	if s == JobStatusPending {
		return JobStatusQueued
	}
	return s
}

// IsTerminal returns true once the job can no longer change state
func (s JobStatus) IsTerminal() bool {
	switch s.Normalize() {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsActive returns true while the job is queued or running
func (s JobStatus) IsActive() bool {
	switch s.Normalize() {
	case JobStatusQueued, JobStatusRunning:
		return true
	}
	return false
}

// Job is a complete (non-diff) snapshot of one server-side background job.
// The job queue owns the record; this subsystem only observes it.
//
// Metadata is supplied at creation time and available immediately. Result is
// populated only once the job completes, and its identifying fields do not
// necessarily use the same names as Metadata's - older generator jobs wrote
// different keys, so consumers must not assume one canonical shape.
type Job struct {
	ID        string                 `json:"id"`
	Status    JobStatus              `json:"status"`
	Progress  float64                `json:"progress"` // 0.0 - 1.0, non-decreasing while running
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	CreatedAt time.Time              `json:"created_at,omitempty"`
	UpdatedAt time.Time              `json:"updated_at,omitempty"`
}

// ParseJob decodes one feed message into a job snapshot
func ParseJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("failed to unmarshal job snapshot: %w", err)
	}
	if job.ID == "" {
		return Job{}, fmt.Errorf("job snapshot missing id")
	}
	return job, nil
}

// ParseJobList decodes a job list response. The server sometimes returns a
// bare array and sometimes an object wrapping one, so both are accepted.
func ParseJobList(data []byte) ([]Job, error) {
	var jobs []Job
	if err := json.Unmarshal(data, &jobs); err == nil {
		return jobs, nil
	}

	var wrapped struct {
		Jobs  []Job `json:"jobs"`
		Data  []Job `json:"data"`
		Items []Job `json:"items"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job list: %w", err)
	}

	switch {
	case wrapped.Jobs != nil:
		return wrapped.Jobs, nil
	case wrapped.Data != nil:
		return wrapped.Data, nil
	case wrapped.Items != nil:
		return wrapped.Items, nil
	}
	return nil, nil
}

// MetadataString retrieves a string value from metadata
func (j *Job) MetadataString(key string) (string, bool) {
	return mapString(j.Metadata, key)
}

// ResultString retrieves a string value from the result payload
func (j *Job) ResultString(key string) (string, bool) {
	return mapString(j.Result, key)
}

// ResultFloat retrieves a numeric value from the result payload
func (j *Job) ResultFloat(key string) (float64, bool) {
	if j.Result == nil {
		return 0, false
	}
	val, ok := j.Result[key]
	if !ok {
		return 0, false
	}
	// JSON unmarshaling converts numbers to float64
	switch v := val.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func mapString(m map[string]interface{}, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	val, ok := m[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}
