// Package handler exposes the ingestion and signal services over HTTP.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kavish224/financial-tools/internal/model"
	"github.com/kavish224/financial-tools/internal/service"
	"github.com/kavish224/financial-tools/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Updater is the universe update surface used by UpdateHandler
type Updater interface {
	Start(ctx context.Context) (*model.UpdateJob, error)
	Cancel(ctx context.Context) bool
	Status(ctx context.Context) (*model.UpdateJob, error)
	Job(ctx context.Context, id int64) (*model.UpdateJob, error)
	History(ctx context.Context, limit int) ([]model.UpdateJob, error)
	UpdateOne(ctx context.Context, key string) (model.SymbolOutcome, error)
}

// BhavcopyImporter is the bulk import surface used by BhavcopyHandler
type BhavcopyImporter interface {
	ImportFile(ctx context.Context, name string, data []byte) (*model.ImportSummary, error)
	DownloadAndImport(ctx context.Context, date time.Time) (*model.ImportSummary, error)
	Today() time.Time
}

// Signals is the signal surface used by SignalHandler
type Signals interface {
	NearSMA(ctx context.Context, p service.ProximityParams) ([]model.NearSMAResult, error)
	PersistToday(ctx context.Context, p service.ProximityParams) (int, error)
	Backfill(ctx context.Context, p service.ProximityParams, days int) (int, error)
	PersistCrossovers(ctx context.Context, short, long int) (int, error)
	List(ctx context.Context, params model.SignalParams, day *time.Time) ([]model.SignalResult, error)
}

// Analytics is the crossing report surface used by AnalyticsHandler
type Analytics interface {
	PriceCrossings(ctx context.Context, period int) ([]model.CrossingReport, error)
	GoldenCrosses(ctx context.Context, short, long int) ([]model.CrossingReport, error)
}

// Symbols is the symbol master surface used by SymbolHandler
type Symbols interface {
	List(ctx context.Context, offset, limit int) ([]model.Symbol, int, error)
	Get(ctx context.Context, key string) (*model.Symbol, error)
	Aliases(ctx context.Context, key string) ([]model.SymbolAlias, error)
	Import(ctx context.Context, r io.Reader) (*model.SymbolImportSummary, error)
}

// respondServiceError maps service errors onto HTTP statuses. Unexpected
// errors are logged and hidden behind msg.
func respondServiceError(c *gin.Context, logger *zap.Logger, err error, msg string) {
	switch {
	case errors.Is(err, service.ErrInvalidParams):
		utils.SendErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnknownSymbol):
		utils.SendErrorResponse(c, http.StatusNotFound, "Symbol not found")
	case errors.Is(err, service.ErrUpdateRunning):
		utils.SendErrorResponse(c, http.StatusConflict, "Universe update already running")
	default:
		logger.Error(msg, zap.Error(err), zap.String("path", c.Request.URL.Path))
		utils.SendErrorResponse(c, http.StatusInternalServerError, msg)
	}
}
