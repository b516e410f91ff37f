package models

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a background analysis job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job tracks one background analysis run. The API returns a job_id on POST /api/v1/jobs;
// the client polls GET /api/v1/jobs/{job_id} until status is completed or failed.
type Job struct {
	ID          uuid.UUID      `json:"job_id"`
	Status      JobStatus      `json:"status"`
	CurrentStep *string        `json:"current_step"`
	Progress    map[string]any `json:"progress"`
	Result      *JobResult     `json:"result"`
	Error       *string        `json:"error"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// JobResult is set once, when a job completes.
type JobResult struct {
	MessageID       uuid.UUID `json:"message_id"`
	Hypothesis      string    `json:"hypothesis"`
	ObjectsDetected int       `json:"objects_detected"`
	TextsExtracted  int       `json:"texts_extracted"`
}

// Clone returns a deep copy safe to hand to readers outside the registry lock.
func (j *Job) Clone() Job {
	c := *j
	c.Progress = maps.Clone(j.Progress)
	if c.Progress == nil {
		c.Progress = map[string]any{}
	}
	if j.CurrentStep != nil {
		step := *j.CurrentStep
		c.CurrentStep = &step
	}
	if j.Result != nil {
		res := *j.Result
		c.Result = &res
	}
	if j.Error != nil {
		msg := *j.Error
		c.Error = &msg
	}
	return c
}
