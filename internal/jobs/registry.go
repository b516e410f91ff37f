// Package jobs holds the process-lifetime job registry and the worker pool that
// runs background analysis jobs.
package jobs

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrInvalidUpdate     = errors.New("invalid job update")
)

var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusPending: {models.JobStatusRunning, models.JobStatusFailed},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed},
}

// Registry is a concurrency-safe, in-memory job store. A single mutex guards the
// map and is held only for the duration of one operation. Readers always get a
// deep copy, so a snapshot never mixes fields from two updates.
type Registry struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
	last time.Time
	now  func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		jobs: make(map[uuid.UUID]*models.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create inserts a new pending job and returns its snapshot.
func (r *Registry) Create() models.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	// created_at is strictly increasing so List has a total order.
	ts := r.now()
	if !ts.After(r.last) {
		ts = r.last.Add(time.Nanosecond)
	}
	r.last = ts

	job := &models.Job{
		ID:        uuid.New(),
		Status:    models.JobStatusPending,
		Progress:  map[string]any{},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	r.jobs[job.ID] = job
	return job.Clone()
}

// Get returns a snapshot of the job, or false if it does not exist.
func (r *Registry) Get(id uuid.UUID) (models.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return job.Clone(), true
}

type updateParams struct {
	status   *models.JobStatus
	step     *string
	progress map[string]any
	result   *models.JobResult
	errMsg   *string
}

// UpdateOption sets one field of a job update.
type UpdateOption func(*updateParams)

func WithStatus(s models.JobStatus) UpdateOption {
	return func(p *updateParams) { p.status = &s }
}

func WithStep(step string) UpdateOption {
	return func(p *updateParams) { p.step = &step }
}

// WithProgress merges delta into the job's progress map key by key.
func WithProgress(delta map[string]any) UpdateOption {
	return func(p *updateParams) {
		if p.progress == nil {
			p.progress = make(map[string]any, len(delta))
		}
		maps.Copy(p.progress, delta)
	}
}

func WithResult(res models.JobResult) UpdateOption {
	return func(p *updateParams) { p.result = &res }
}

func WithError(msg string) UpdateOption {
	return func(p *updateParams) { p.errMsg = &msg }
}

// Update applies the provided fields atomically. Either every field is applied
// or none is. A result may only accompany the transition to completed and an
// error message only the transition to failed; terminal jobs are immutable.
func (r *Registry) Update(id uuid.UUID, opts ...UpdateOption) (models.Job, error) {
	p := &updateParams{}
	for _, opt := range opts {
		opt(p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	if err := validateUpdate(job, p); err != nil {
		return job.Clone(), err
	}

	if p.status != nil {
		job.Status = *p.status
	}
	if p.step != nil {
		job.CurrentStep = p.step
	}
	if p.progress != nil {
		maps.Copy(job.Progress, p.progress)
	}
	if p.result != nil {
		job.Result = p.result
	}
	if p.errMsg != nil {
		job.Error = p.errMsg
	}
	// Never before CreatedAt, which Create may have nudged forward.
	job.UpdatedAt = r.now()
	if job.UpdatedAt.Before(job.CreatedAt) {
		job.UpdatedAt = job.CreatedAt
	}
	return job.Clone(), nil
}

func validateUpdate(job *models.Job, p *updateParams) error {
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: job is %s", ErrInvalidTransition, job.Status)
	}

	if p.status != nil && *p.status != job.Status {
		allowed := false
		for _, s := range validTransitions[job.Status] {
			if s == *p.status {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, *p.status)
		}
	}

	if p.result != nil && p.errMsg != nil {
		return fmt.Errorf("%w: result and error are mutually exclusive", ErrInvalidUpdate)
	}
	if p.result != nil && (p.status == nil || *p.status != models.JobStatusCompleted) {
		return fmt.Errorf("%w: result requires status %s", ErrInvalidUpdate, models.JobStatusCompleted)
	}
	if p.errMsg != nil && (p.status == nil || *p.status != models.JobStatusFailed) {
		return fmt.Errorf("%w: error requires status %s", ErrInvalidUpdate, models.JobStatusFailed)
	}
	return nil
}

// Delete removes the job and reports whether it existed.
func (r *Registry) Delete(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return false
	}
	delete(r.jobs, id)
	return true
}

// List returns snapshots ordered by created_at descending, truncated to limit.
// A limit <= 0 returns every job.
func (r *Registry) List(limit int) []models.Job {
	r.mu.Lock()
	out := make([]models.Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
