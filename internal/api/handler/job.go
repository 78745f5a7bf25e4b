package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/deckbase/cardsync/internal/domain"
	"github.com/deckbase/cardsync/internal/repository"
	"github.com/deckbase/cardsync/internal/service"
	"gorm.io/gorm"
)

// JobHandler handles import job endpoints.
type JobHandler struct {
	imports *service.ImportService
}

// NewJobHandler creates a new job handler.
// Parameters:
//   - imports: import service instance.
// Returns:
//   - *JobHandler: initialized handler.
func NewJobHandler(imports *service.ImportService) *JobHandler {
	return &JobHandler{imports: imports}
}

// createJobRequest is the body of POST /api/v1/jobs.
type createJobRequest struct {
	Kind     string `json:"kind" binding:"required"`
	SetCode  string `json:"set_code"`
	Priority int    `json:"priority"`
}

// CreateJob handles POST /api/v1/jobs.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	job, err := h.imports.CreateJob(c.Request.Context(), &service.CreateJobInput{
		Kind:     domain.JobKind(req.Kind),
		SetCode:  req.SetCode,
		Priority: req.Priority,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidKind), errors.Is(err, service.ErrSetCodeRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrSetNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, repository.ErrActiveJobExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job: " + err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, job)
}

// ListJobs handles GET /api/v1/jobs.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) ListJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	jobs, err := h.imports.ListJobs(c.Request.Context(), &repository.JobFilter{
		Status:  domain.JobStatus(c.Query("status")),
		SetCode: c.Query("set_code"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob handles GET /api/v1/jobs/:id. Progress counters are readable at any
// time during a run.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.imports.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load job: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, job)
}

// CancelJob handles POST /api/v1/jobs/:id/cancel.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) CancelJob(c *gin.Context) {
	err := h.imports.CancelJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		case errors.Is(err, service.ErrNotCancellable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel job: " + err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "cancellation requested"})
}

// RetryJob handles POST /api/v1/jobs/:id/retry.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *JobHandler) RetryJob(c *gin.Context) {
	job, err := h.imports.RetryJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		case errors.Is(err, service.ErrNotRetryable), errors.Is(err, repository.ErrActiveJobExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retry job: " + err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, job)
}
