package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/casefile/internal/api/response"
	"github.com/kiranshivaraju/casefile/internal/jobs"
	"github.com/kiranshivaraju/casefile/internal/pipeline"
	"github.com/kiranshivaraju/casefile/pkg/models"
)

const (
	defaultJobListLimit = 20
	maxJobListLimit     = 100
)

// JobService is the polling facade over background runs.
type JobService interface {
	SubmitJob(ctx context.Context, req pipeline.Request) (models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (models.Job, error)
	ListJobs(limit int) []models.Job
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

type submitJobResponse struct {
	JobID   uuid.UUID        `json:"job_id"`
	Status  models.JobStatus `json:"status"`
	Message string           `json:"message"`
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewSubmitJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeAnalyzeRequest(w, r)
		if !ok {
			return
		}

		job, err := svc.SubmitJob(r.Context(), req)
		if err != nil {
			if errors.Is(err, jobs.ErrQueueFull) || errors.Is(err, jobs.ErrStopped) {
				w.Header().Set("Retry-After", "5")
				response.Error(w, http.StatusServiceUnavailable, "QUEUE_FULL",
					"Too many analysis jobs in progress, retry shortly", nil)
				return
			}
			writePipelineError(w, err)
			return
		}

		response.Accepted(w, submitJobResponse{
			JobID:   job.ID,
			Status:  job.Status,
			Message: "Analysis job created. Poll /api/v1/jobs/" + job.ID.String() + " for status.",
		})
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}
		job, err := svc.GetJob(r.Context(), id)
		if err != nil {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return
		}
		response.JSON(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultJobListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			limit = min(n, maxJobListLimit)
		}

		list := svc.ListJobs(limit)
		response.Collection(w, list, response.ListMeta{Limit: limit, Count: len(list)})
	}
}

// NewDeleteJobHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}.
func NewDeleteJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseJobID(w, r)
		if !ok {
			return
		}
		if err := svc.DeleteJob(r.Context(), id); err != nil {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return
		}
		response.JSON(w, map[string]string{"message": "Job deleted"})
	}
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "Invalid job ID", nil)
		return uuid.Nil, false
	}
	return id, true
}
