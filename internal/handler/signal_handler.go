package handler

import (
	"net/http"
	"time"

	"github.com/kavish224/financial-tools/internal/model"
	"github.com/kavish224/financial-tools/internal/service"
	"github.com/kavish224/financial-tools/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type proximityQuery struct {
	Period    int     `form:"period,default=50" binding:"min=1,max=500"`
	Threshold float64 `form:"threshold,default=2.0" binding:"min=0,max=100"`
}

func (q proximityQuery) params() service.ProximityParams {
	return service.ProximityParams{Period: q.Period, Threshold: decimal.NewFromFloat(q.Threshold)}
}

// bindProximity binds and validates proximity parameters, writing a 400 on
// failure
func bindProximity(c *gin.Context) (proximityQuery, bool) {
	var q proximityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, utils.BindingErrorMessage(err))
		return q, false
	}
	if err := q.params().Validate(); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return q, false
	}
	return q, true
}

type backfillQuery struct {
	Period    int     `form:"period,default=50" binding:"min=1,max=500"`
	Threshold float64 `form:"threshold,default=2.0" binding:"min=0,max=100"`
	Days      int     `form:"days,default=1" binding:"min=1,max=8"`
}

type crossoverQuery struct {
	Short int `form:"short,default=50" binding:"min=1,ltfield=Long"`
	Long  int `form:"long,default=200" binding:"min=2,max=500"`
}

type listQuery struct {
	Kind      string  `form:"kind,default=proximity" binding:"oneof=proximity golden_cross death_cross"`
	Period    int     `form:"period,default=50" binding:"min=1,max=500"`
	Long      int     `form:"long,default=200" binding:"min=2,max=500"`
	Threshold float64 `form:"threshold,default=2.0" binding:"min=0,max=100"`
	Date      string  `form:"date"`
}

// SignalHandler handles SMA signal requests
type SignalHandler struct {
	signals Signals
	logger  *zap.Logger
}

// NewSignalHandler creates a new signal handler
func NewSignalHandler(signals Signals, logger *zap.Logger) *SignalHandler {
	return &SignalHandler{
		signals: signals,
		logger:  logger,
	}
}

// GetNearSMA computes the symbols whose latest close is near their SMA
// GET /api/v1/signals/near-sma?period=50&threshold=2
func (h *SignalHandler) GetNearSMA(c *gin.Context) {
	q, ok := bindProximity(c)
	if !ok {
		return
	}

	results, err := h.signals.NearSMA(c.Request.Context(), q.params())
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to compute near-SMA signals")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"period":    q.Period,
		"threshold": q.Threshold,
		"count":     len(results),
		"results":   results,
	})
}

// PersistNearSMA evaluates and stores today's proximity signals
// POST /api/v1/signals/near-sma
func (h *SignalHandler) PersistNearSMA(c *gin.Context) {
	q, ok := bindProximity(c)
	if !ok {
		return
	}

	inserted, err := h.signals.PersistToday(c.Request.Context(), q.params())
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to persist near-SMA signals")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Signals persisted",
		"inserted": inserted,
	})
}

// Backfill evaluates proximity signals for the trailing days
// POST /api/v1/signals/near-sma/backfill?days=5
func (h *SignalHandler) Backfill(c *gin.Context) {
	var q backfillQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, utils.BindingErrorMessage(err))
		return
	}

	p := proximityQuery{Period: q.Period, Threshold: q.Threshold}.params()
	if err := p.Validate(); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	inserted, err := h.signals.Backfill(c.Request.Context(), p, q.Days)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to backfill signals")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Signals backfilled",
		"days":     q.Days,
		"inserted": inserted,
	})
}

// PersistCrossovers stores the latest golden and death crosses
// POST /api/v1/signals/crossovers?short=50&long=200
func (h *SignalHandler) PersistCrossovers(c *gin.Context) {
	var q crossoverQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, utils.BindingErrorMessage(err))
		return
	}

	inserted, err := h.signals.PersistCrossovers(c.Request.Context(), q.Short, q.Long)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to persist crossover signals")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":  "Crossover signals persisted",
		"inserted": inserted,
	})
}

// ListSignals returns stored signals for a parameter set and day
// GET /api/v1/signals?kind=proximity&period=50&threshold=2&date=2024-03-15
func (h *SignalHandler) ListSignals(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.SendErrorResponse(c, http.StatusBadRequest, utils.BindingErrorMessage(err))
		return
	}

	var params model.SignalParams
	if model.SignalKind(q.Kind) == model.SignalProximity {
		p := proximityQuery{Period: q.Period, Threshold: q.Threshold}.params()
		if err := p.Validate(); err != nil {
			utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		params = p.SignalParams()
	} else {
		if err := service.ValidateCrossover(q.Period, q.Long); err != nil {
			utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
		params = model.SignalParams{Kind: model.SignalKind(q.Kind), ShortPeriod: q.Period, LongPeriod: q.Long}
	}

	var day *time.Time
	if q.Date != "" {
		parsed, err := model.ParseDay(q.Date)
		if err != nil {
			utils.SendErrorResponse(c, http.StatusBadRequest, "Invalid date format, use YYYY-MM-DD")
			return
		}
		day = &parsed
	}

	results, err := h.signals.List(c.Request.Context(), params, day)
	if err != nil {
		respondServiceError(c, h.logger, err, "Failed to retrieve signals")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"params":  params,
		"count":   len(results),
		"results": results,
	})
}
