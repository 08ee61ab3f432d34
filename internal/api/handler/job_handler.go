package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/opportunity-pipeline/internal/api/dto"
	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/cuongbtq/opportunity-pipeline/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxParamsBytes = 64 << 10

// Trigger handles POST /api/v1/stages/:stage/trigger
// The body is the stage parameter document. The job runs on a worker after
// the response is sent.
func (h *JobHandler) Trigger(c *gin.Context) {
	stage := c.Param("stage")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxParamsBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "failed to read request body"})
		return
	}
	if len(body) > maxParamsBytes {
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "parameters too large"})
		return
	}

	job, err := h.jobs.Create(c.Request.Context(), stage, domain.RawJSON(body))
	if err != nil {
		h.respondError(c, err, "Failed to create job", slog.String("stage", stage))
		return
	}

	h.logger.Info("Job triggered",
		slog.String("job_id", job.JobID),
		slog.String("stage", stage),
	)
	c.JSON(http.StatusAccepted, triggered(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.jobs.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, "Failed to get job", slog.String("job_id", jobID))
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}
	if req.Status != "" && !domain.IsValidStatus(req.Status) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid status"})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid cursor"})
		return
	}

	jobs, next, err := h.jobs.List(c.Request.Context(), storage.JobFilter{
		Stage:    req.Stage,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.respondError(c, err, "Failed to list jobs")
		return
	}

	resp := dto.ListJobsResponse{Jobs: jobs}
	if resp.Jobs == nil {
		resp.Jobs = []domain.Job{}
	}
	if next != nil {
		resp.NextCursor = EncodeJobCursor(next)
	}
	c.JSON(http.StatusOK, resp)
}

// ContinueJob handles POST /api/v1/jobs/:job_id/continue
func (h *JobHandler) ContinueJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.jobs.Continue(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, "Failed to continue job", slog.String("job_id", jobID))
		return
	}

	h.logger.Info("Job continued",
		slog.String("job_id", job.JobID),
		slog.String("parent_job_id", jobID),
	)
	c.JSON(http.StatusAccepted, triggered(job))
}

func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID"})
		return "", false
	}
	return jobID, true
}

// respondError maps domain errors to HTTP statuses; anything unknown is a 500
func (h *JobHandler) respondError(c *gin.Context, err error, msg string, attrs ...any) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidParameters):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownStage), errors.Is(err, domain.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotContinuable):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(msg, append(attrs, slog.Any("error", err))...)
		c.JSON(status, dto.ErrorResponse{Error: "internal error"})
		return
	}
	c.JSON(status, dto.ErrorResponse{Error: err.Error()})
}

func triggered(job *domain.Job) dto.TriggerResponse {
	return dto.TriggerResponse{
		Status:    "triggered",
		JobID:     job.JobID,
		StatusURL: "/api/v1/jobs/" + job.JobID,
	}
}
