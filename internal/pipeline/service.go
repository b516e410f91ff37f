package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/internal/cache"
	"github.com/kiranshivaraju/casefile/internal/jobs"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

// Delivery modes, used as a metrics label.
const (
	ModeStream = "stream"
	ModeJob    = "job"
	ModeSync   = "sync"
)

// EventWriter delivers one named event with a JSON-encodable payload. An error
// means the consumer is gone.
type EventWriter interface {
	WriteEvent(event string, payload any) error
}

// Submitter schedules a task for background execution.
type Submitter interface {
	Submit(t jobs.Task) error
}

// Service exposes the Runner through the three delivery modes. Stream and job
// runs go through the same Runner, so both observe identical stage ordering.
type Service struct {
	runner    *Runner
	registry  *jobs.Registry
	submitter Submitter
	cache     cache.Cache
	statusTTL time.Duration
}

// NewService wires the delivery facades. c may be nil, which disables the job mirror.
func NewService(runner *Runner, registry *jobs.Registry, submitter Submitter, c cache.Cache, statusTTL time.Duration) *Service {
	return &Service{
		runner:    runner,
		registry:  registry,
		submitter: submitter,
		cache:     c,
		statusTTL: statusTTL,
	}
}

type startEvent struct {
	Status      string `json:"status"`
	TotalImages int    `json:"total_images"`
}

type textEvent struct {
	Text string `json:"text"`
}

type completeEvent struct {
	MessageID  uuid.UUID `json:"message_id"`
	Hypothesis string    `json:"hypothesis"`
}

type errorEvent struct {
	Error string `json:"error"`
}

// streamSink forwards run notifications to an EventWriter. After the first
// write error it goes quiet and cancels the run.
type streamSink struct {
	w      EventWriter
	cancel context.CancelFunc
	err    error
}

func (s *streamSink) emit(event string, payload any) {
	if s.err != nil {
		return
	}
	if err := s.w.WriteEvent(event, payload); err != nil {
		s.err = err
		s.cancel()
	}
}

func (s *streamSink) Start(total int) {
	s.emit(EventStart, startEvent{Status: "starting", TotalImages: total})
}

func (s *streamSink) Progress(p Progress) { s.emit(EventProgress, p) }
func (s *streamSink) Text(token string)   { s.emit(EventText, textEvent{Text: token}) }

// Stream runs req inline and writes its events to w. Exactly one terminal
// event (complete or error) is written unless the consumer disconnects first,
// in which case nothing more is written and the run is abandoned.
func (s *Service) Stream(ctx context.Context, req Request, w EventWriter) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := s.runner.metrics
	m.StreamOpened()
	defer m.StreamClosed()

	sink := &streamSink{w: w, cancel: cancel}
	out, err := s.runner.Run(ctx, req, sink)

	if sink.err != nil || ctx.Err() != nil {
		slog.Info("stream consumer disconnected", "conversation_id", req.ConversationID, "error", sink.err)
		m.RunFinished(ModeStream, string(req.Variant), string(KindCanceled))
		return
	}
	if err != nil {
		m.RunFinished(ModeStream, string(req.Variant), string(KindOf(err)))
		sink.emit(EventError, errorEvent{Error: err.Error()})
		return
	}
	m.RunFinished(ModeStream, string(req.Variant), "completed")
	sink.emit(EventComplete, completeEvent{MessageID: out.MessageID, Hypothesis: out.Hypothesis})
}

// Analyze runs req inline and returns the outcome in one piece.
func (s *Service) Analyze(ctx context.Context, req Request) (*Outcome, error) {
	out, err := s.runner.Run(ctx, req, discardSink{})
	outcome := "completed"
	if err != nil {
		outcome = string(KindOf(err))
	}
	s.runner.metrics.RunFinished(ModeSync, string(req.Variant), outcome)
	return out, err
}

// SubmitJob validates req, registers a pending job and schedules the run. It
// returns before the run starts.
func (s *Service) SubmitJob(ctx context.Context, req Request) (models.Job, error) {
	if err := s.runner.Validate(ctx, req.ConversationID); err != nil {
		return models.Job{}, err
	}

	job := s.registry.Create()
	s.mirror(ctx, job)

	// The task outlives the request, so it gets the dispatcher's context.
	err := s.submitter.Submit(func(taskCtx context.Context) {
		s.runJob(taskCtx, job.ID, req)
	})
	if err != nil {
		s.registry.Delete(job.ID)
		s.forgetMirror(ctx, job.ID)
		s.runner.metrics.JobFinished("rejected")
		return models.Job{}, fmt.Errorf("scheduling job: %w", err)
	}

	slog.Info("job submitted", "job_id", job.ID, "conversation_id", req.ConversationID, "variant", req.Variant)
	return job, nil
}

// jobSink records progress on the job record.
type jobSink struct {
	ctx context.Context
	svc *Service
	id  uuid.UUID
}

func (j *jobSink) Start(total int) {
	j.svc.update(j.ctx, j.id, jobs.WithProgress(map[string]any{"total_images": total}))
}

func (j *jobSink) Progress(p Progress) {
	j.svc.update(j.ctx, j.id, jobs.WithStep(p.Step), jobs.WithProgress(p.Fields()))
}

func (s *Service) runJob(ctx context.Context, id uuid.UUID, req Request) {
	log := slog.With("job_id", id, "conversation_id", req.ConversationID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in job run", "error", r)
			s.finish(ctx, id, string(req.Variant), jobs.WithStatus(models.JobStatusFailed), jobs.WithError(fmt.Sprintf("panic: %v", r)))
		}
	}()

	if !s.update(ctx, id, jobs.WithStatus(models.JobStatusRunning), jobs.WithStep(StepValidating)) {
		log.Info("job gone before start, skipping run")
		return
	}

	out, err := s.runner.Run(ctx, req, &jobSink{ctx: ctx, svc: s, id: id})
	if err != nil {
		log.Warn("job failed", "error", err)
		s.finish(ctx, id, string(req.Variant), jobs.WithStatus(models.JobStatusFailed), jobs.WithError(err.Error()))
		return
	}
	s.finish(ctx, id, string(req.Variant),
		jobs.WithStatus(models.JobStatusCompleted),
		jobs.WithStep(StepComplete),
		jobs.WithResult(out.JobResult()),
	)
}

func (s *Service) finish(ctx context.Context, id uuid.UUID, variant string, opts ...jobs.UpdateOption) {
	job, err := s.registry.Update(id, opts...)
	if err != nil {
		s.logUpdateErr(id, err)
		return
	}
	s.mirror(ctx, job)
	s.runner.metrics.JobFinished(string(job.Status))
	s.runner.metrics.RunFinished(ModeJob, variant, string(job.Status))
}

// update applies opts, mirrors the result and reports whether the job still
// exists. A job deleted mid-run is not an error for the run.
func (s *Service) update(ctx context.Context, id uuid.UUID, opts ...jobs.UpdateOption) bool {
	job, err := s.registry.Update(id, opts...)
	if err != nil {
		s.logUpdateErr(id, err)
		return !errors.Is(err, jobs.ErrNotFound)
	}
	s.mirror(ctx, job)
	return true
}

func (s *Service) logUpdateErr(id uuid.UUID, err error) {
	if errors.Is(err, jobs.ErrNotFound) {
		slog.Debug("job update skipped, job deleted", "job_id", id)
		return
	}
	slog.Warn("job update rejected", "job_id", id, "error", err)
}

// mirror copies the job snapshot to the cache so other replicas can answer
// polls for it. The registry stays authoritative, so failures are only logged.
func (s *Service) mirror(ctx context.Context, job models.Job) {
	if s.cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.cache.PutJob(ctx, job, s.statusTTL); err != nil {
		slog.Warn("job mirror failed", "job_id", job.ID, "error", err)
		return
	}
	// A DeleteJob that raced this write may have cleared the key first.
	if _, ok := s.registry.Get(job.ID); !ok {
		s.forgetMirror(ctx, job.ID)
	}
}

func (s *Service) forgetMirror(ctx context.Context, id uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.JobKey(id)); err != nil {
		slog.Warn("job mirror delete failed", "job_id", id, "error", err)
	}
}

// GetJob returns the current snapshot of a job. Jobs run by this process come
// from the registry; any other id is looked up in the mirror, where replicas
// sharing the cache publish theirs.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID) (models.Job, error) {
	if job, ok := s.registry.Get(id); ok {
		return job, nil
	}
	if s.cache == nil {
		return models.Job{}, jobs.ErrNotFound
	}
	job, ok, err := s.cache.GetJob(ctx, id)
	if err != nil {
		slog.Warn("job mirror read failed", "job_id", id, "error", err)
		return models.Job{}, jobs.ErrNotFound
	}
	if !ok {
		return models.Job{}, jobs.ErrNotFound
	}
	return *job, nil
}

// ListJobs returns at most limit jobs run by this process, newest first.
func (s *Service) ListJobs(limit int) []models.Job {
	return s.registry.List(limit)
}

// DeleteJob forgets a job run by this process. A run still executing for it
// keeps going but its updates are dropped.
func (s *Service) DeleteJob(ctx context.Context, id uuid.UUID) error {
	if !s.registry.Delete(id) {
		return jobs.ErrNotFound
	}
	s.forgetMirror(ctx, id)
	return nil
}
