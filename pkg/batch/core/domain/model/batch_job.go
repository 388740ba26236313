package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JobState is the live state of a remote batch job. It is never persisted
// locally; the orchestrator queries it through the stored job handle.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateUnknown   JobState = "unknown"
)

// IsTerminal reports whether the remote job will not change state anymore.
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// ParseJobState maps the remote service's spelling (JOB_STATE_SUCCEEDED,
// BATCH_STATE_RUNNING, ...) onto JobState.
func ParseJobState(raw string) JobState {
	s := strings.ToUpper(raw)
	switch {
	case strings.Contains(s, "SUCCEEDED"):
		return JobStateSucceeded
	case strings.Contains(s, "FAILED"), strings.Contains(s, "CANCELLED"), strings.Contains(s, "EXPIRED"):
		return JobStateFailed
	case strings.Contains(s, "RUNNING"), strings.Contains(s, "CANCELLING"), strings.Contains(s, "UPDATING"):
		return JobStateRunning
	case strings.Contains(s, "PENDING"), strings.Contains(s, "QUEUED"):
		return JobStateQueued
	}
	return JobStateUnknown
}

// BatchJobRecord is one row of the batch ledger: a chunk submitted as one
// remote job. Rows are immutable; a forced resubmission appends a new row for
// the same chunk and the latest row wins.
type BatchJobRecord struct {
	Profile     string    `json:"profile"`
	PlanName    string    `json:"plan_name"`
	ChunkID     int       `json:"chunk_id"`
	FirstIndex  int       `json:"first_index"`
	LastIndex   int       `json:"last_index"`
	ItemCount   int       `json:"item_count"`
	JobName     string    `json:"job_name"`
	InputFile   string    `json:"input_file"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// SameRange reports whether the row covers the given inclusive index range.
func (r *BatchJobRecord) SameRange(first, last int) bool {
	return r.FirstIndex == first && r.LastIndex == last
}

// BatchKey builds the per-item request key "profile:plan_name:index".
func BatchKey(profile, planName string, index int) string {
	return fmt.Sprintf("%s:%s:%d", profile, planName, index)
}

// ParseBatchKey splits a request key back into its parts.
func ParseBatchKey(key string) (profile, planName string, index int, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("malformed batch key %q", key)
	}
	index, err = strconv.Atoi(parts[2])
	if err != nil {
		return parts[0], parts[1], 0, fmt.Errorf("malformed batch key index %q: %w", key, err)
	}
	return parts[0], parts[1], index, nil
}
