package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/script-studio/internal/api/domain"
	"github.com/cuongbtq/script-studio/internal/api/dto"
	"github.com/cuongbtq/script-studio/internal/api/model"
	"github.com/cuongbtq/script-studio/internal/api/storage"
	jobdomain "github.com/cuongbtq/script-studio/internal/job/domain"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateRun handles POST /api/v1/jobs
// Submits a generation job and starts polling it
func (h *RunHandler) CreateRun(c *gin.Context) {
	var req dto.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	jobReq, err := jobdomain.NewJobRequest(req.CreatorHandle, req.Topic, jobdomain.Credentials{
		Gemini: req.GeminiAPIKey,
		Apify:  req.ApifyAPIKey,
	})
	if err != nil {
		h.respondLaunchError(c, err)
		return
	}

	run, err := h.runs.Launch(c.Request.Context(), jobReq)
	if err != nil {
		h.respondLaunchError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateRunResponse{
		JobID:    run.JobID,
		Status:   run.Status,
		State:    run.State,
		Progress: run.Progress,
		Label:    run.Label,
	})
}

func (h *RunHandler) respondLaunchError(c *gin.Context, err error) {
	var verr *jobdomain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, jobdomain.ErrSubmissionFailed):
		h.logger.Error("Submission failed", slog.Any("error", err))
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: err.Error()})
	default:
		h.logger.Error("Failed to launch run", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to launch run"})
	}
}

// GetRun handles GET /api/v1/jobs/:job_id
func (h *RunHandler) GetRun(c *gin.Context) {
	jobID := c.Param("job_id")

	run, err := h.runs.GetRun(c.Request.Context(), jobID)
	if err != nil {
		h.respondRunError(c, jobID, err)
		return
	}

	c.JSON(http.StatusOK, h.toDTO(run))
}

// ListRuns handles GET /api/v1/jobs
// Lists runs newest first with an optional status filter
func (h *RunHandler) ListRuns(c *gin.Context) {
	var req dto.ListRunsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	if req.Status != "" && !domain.IsValidRunStatus(req.Status) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid status filter"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeRunCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
		return
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), storage.RunFilter{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list runs", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list runs"})
		return
	}

	hasMore := len(runs) > req.PageSize
	if hasMore {
		runs = runs[:req.PageSize]
	}

	resp := dto.ListRunsResponse{Runs: make([]dto.RunDTO, len(runs))}
	for i := range runs {
		resp.Runs[i] = h.toDTO(&runs[i])
	}

	if hasMore {
		last := runs[len(runs)-1]
		resp.NextCursor = EncodeRunCursor(&storage.RunCursor{CreatedAt: last.CreatedAt, JobID: last.JobID})
	}

	c.JSON(http.StatusOK, resp)
}

// CancelRun handles POST /api/v1/jobs/:job_id/cancel
// Stops polling; the backend job itself keeps running
func (h *RunHandler) CancelRun(c *gin.Context) {
	jobID := c.Param("job_id")

	if err := h.runs.Cancel(jobID); err != nil {
		if errors.Is(err, domain.ErrRunNotActive) {
			if _, getErr := h.runs.GetRun(c.Request.Context(), jobID); errors.Is(getErr, domain.ErrRunNotFound) {
				c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Run not found"})
				return
			}
			c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "Run is not polling"})
			return
		}
		h.respondRunError(c, jobID, err)
		return
	}

	h.logger.Info("Run canceled", slog.String("job_id", jobID))

	run, err := h.runs.GetRun(c.Request.Context(), jobID)
	if err != nil {
		h.respondRunError(c, jobID, err)
		return
	}
	c.JSON(http.StatusOK, h.toDTO(run))
}

// DeleteRun handles DELETE /api/v1/jobs/:job_id
func (h *RunHandler) DeleteRun(c *gin.Context) {
	jobID := c.Param("job_id")

	if err := h.runs.DeleteRun(c.Request.Context(), jobID); err != nil {
		h.respondRunError(c, jobID, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *RunHandler) respondRunError(c *gin.Context, jobID string, err error) {
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Run not found"})
	case errors.Is(err, domain.ErrRunActive):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: "Run is still polling"})
	default:
		h.logger.Error("Run operation failed",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Internal server error"})
	}
}

func (h *RunHandler) toDTO(run *model.Run) dto.RunDTO {
	out := dto.RunDTO{
		JobID:         run.JobID,
		CreatorHandle: run.CreatorHandle,
		Topic:         run.Topic,
		Status:        run.Status,
		State:         run.State,
		Progress:      run.Progress,
		Label:         run.Label,
		Message:       run.Message,
		Script:        run.Script,
		CreatedAt:     run.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     run.UpdatedAt.Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		out.FinishedAt = run.FinishedAt.Format(time.RFC3339)
	}
	if h.polling != nil {
		out.Polling = h.polling.Active(run.JobID)
	}
	return out
}
