package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/kavish224/financial-tools/internal/service"
	"github.com/kavish224/financial-tools/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UpdateHandler handles incremental update HTTP requests
type UpdateHandler struct {
	updater Updater
	logger  *zap.Logger
}

// NewUpdateHandler creates a new update handler
func NewUpdateHandler(updater Updater, logger *zap.Logger) *UpdateHandler {
	return &UpdateHandler{
		updater: updater,
		logger:  logger,
	}
}

// StartUniverseUpdate launches a background update of every symbol
// POST /api/v1/update/all-symbols
func (h *UpdateHandler) StartUniverseUpdate(c *gin.Context) {
	job, err := h.updater.Start(c.Request.Context())
	if err != nil {
		var running *service.RunningError
		if errors.As(err, &running) {
			body := gin.H{"error": "Universe update already running"}
			if running.Job != nil {
				body["job_id"] = running.Job.ID
			}
			if since := running.RunningSince(); !since.IsZero() {
				body["running_since"] = since
			}
			c.JSON(http.StatusConflict, body)
			return
		}

		h.logger.Error("Failed to start universe update", zap.Error(err))
		utils.SendErrorResponse(c, http.StatusInternalServerError, "Failed to start universe update")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":    "Universe update started",
		"job_id":     job.ID,
		"started_at": job.StartedAt,
	})
}

// GetStatus returns the most recent universe update
// GET /api/v1/update/status
func (h *UpdateHandler) GetStatus(c *gin.Context) {
	job, err := h.updater.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get update status", zap.Error(err))
		utils.SendErrorResponse(c, http.StatusInternalServerError, "Failed to retrieve update status")
		return
	}

	if job == nil {
		utils.SendErrorResponse(c, http.StatusNotFound, "No update has run yet")
		return
	}

	c.JSON(http.StatusOK, job)
}

// ListJobs returns the most recent universe updates
// GET /api/v1/update/jobs?limit=20
func (h *UpdateHandler) ListJobs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		utils.SendErrorResponse(c, http.StatusBadRequest, "limit must be between 1 and 100")
		return
	}

	jobs, err := h.updater.History(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list jobs", zap.Error(err))
		utils.SendErrorResponse(c, http.StatusInternalServerError, "Failed to retrieve jobs")
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// GetJob returns one update job
// GET /api/v1/update/jobs/:id
func (h *UpdateHandler) GetJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		utils.SendErrorResponse(c, http.StatusBadRequest, "Invalid job ID")
		return
	}

	job, err := h.updater.Job(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get job", zap.Error(err), zap.Int64("job_id", id))
		utils.SendErrorResponse(c, http.StatusInternalServerError, "Failed to retrieve job")
		return
	}

	if job == nil {
		utils.SendErrorResponse(c, http.StatusNotFound, "Job not found")
		return
	}

	c.JSON(http.StatusOK, job)
}

// CancelUpdate cancels the update running in this instance
// DELETE /api/v1/update/current
func (h *UpdateHandler) CancelUpdate(c *gin.Context) {
	if !h.updater.Cancel(c.Request.Context()) {
		utils.SendErrorResponse(c, http.StatusNotFound, "No update running on this instance")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Cancellation requested"})
}

// UpdateSymbol updates one symbol synchronously
// POST /api/v1/update/symbols/:isin
func (h *UpdateHandler) UpdateSymbol(c *gin.Context) {
	key := c.Param("isin")

	outcome, err := h.updater.UpdateOne(c.Request.Context(), key)
	if err != nil && outcome.Outcome == "" {
		respondServiceError(c, h.logger, err, "Failed to update symbol")
		return
	}
	// the upstream fetch or the store failed for this symbol
	if err != nil {
		c.JSON(http.StatusBadGateway, outcome)
		return
	}

	c.JSON(http.StatusOK, outcome)
}
