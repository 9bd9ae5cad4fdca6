package handler

import (
	"net/http"

	"github.com/kavish224/financial-tools/internal/model"
	"github.com/kavish224/financial-tools/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type periodQuery struct {
	Period int `form:"period,default=50" binding:"min=1,max=500"`
}

// AnalyticsHandler serves crossing reports over stored history
type AnalyticsHandler struct {
	analytics Analytics
	logger    *zap.Logger
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(analytics Analytics, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		analytics: analytics,
		logger:    logger,
	}
}

// GetPriceCrossings lists every close crossing its SMA
// GET /api/v1/analytics/sma-crossings?period=200
func (h *AnalyticsHandler) GetPriceCrossings(c *gin.Context) {
	var q periodQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, utils.BindingErrorMessage(err))
		return
	}

	reports, err := h.analytics.PriceCrossings(c.Request.Context(), q.Period)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to compute SMA crossings")
		return
	}

	c.JSON(http.StatusOK, reportsOrEmpty(reports))
}

// GetGoldenCrosses lists short/long SMA crossings
// GET /api/v1/analytics/golden-cross?short=50&long=200
func (h *AnalyticsHandler) GetGoldenCrosses(c *gin.Context) {
	var q crossoverQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, utils.BindingErrorMessage(err))
		return
	}

	reports, err := h.analytics.GoldenCrosses(c.Request.Context(), q.Short, q.Long)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to compute golden crosses")
		return
	}

	if len(reports) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"message": "No crossing events found."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"short":   q.Short,
		"long":    q.Long,
		"count":   len(reports),
		"results": reports,
	})
}

// reportsOrEmpty keeps JSON arrays from encoding as null
func reportsOrEmpty(r []model.CrossingReport) []model.CrossingReport {
	if r == nil {
		return []model.CrossingReport{}
	}
	return r
}
