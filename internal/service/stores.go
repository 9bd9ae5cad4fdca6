package service

import (
	"context"
	"time"

	"github.com/kavish224/financial-tools/internal/client"
	"github.com/kavish224/financial-tools/internal/model"
)

// PriceBarStore is the historical series store used by the services
type PriceBarStore interface {
	Append(ctx context.Context, bar model.PriceBar) (bool, error)
	AppendBatch(ctx context.Context, bars []model.PriceBar) (int, error)
	LatestDate(ctx context.Context, isin string) (*time.Time, error)
	SeriesFrom(ctx context.Context, isin string, since *time.Time) ([]model.PriceBar, error)
	SeriesUntil(ctx context.Context, isin string, until time.Time, limit int) ([]model.PriceBar, error)
}

// SymbolStore is the symbol master
type SymbolStore interface {
	List(ctx context.Context) ([]model.Symbol, error)
	ListPage(ctx context.Context, offset, limit int) ([]model.Symbol, int, error)
	ListISINs(ctx context.Context) ([]string, error)
	GetByISIN(ctx context.Context, isin string) (*model.Symbol, error)
	ResolveTicker(ctx context.Context, ticker string) (*model.Symbol, error)
	Upsert(ctx context.Context, sym model.Symbol) (model.SymbolUpsertResult, error)
	Aliases(ctx context.Context, isin string) ([]model.SymbolAlias, error)
}

// SignalStore persists signal results
type SignalStore interface {
	UpsertToday(ctx context.Context, result model.SignalResult) (bool, error)
	InsertBatch(ctx context.Context, results []model.SignalResult) (int, error)
	PruneOlderThan(ctx context.Context, params model.SignalParams, cutoff time.Time) (int64, error)
	List(ctx context.Context, params model.SignalParams, day time.Time) ([]model.SignalResult, error)
	LatestDate(ctx context.Context, params model.SignalParams) (*time.Time, error)
}

// JobStore is the update job ledger
type JobStore interface {
	Create(ctx context.Context, kind string, totalSymbols int) (*model.UpdateJob, error)
	Get(ctx context.Context, id int64) (*model.UpdateJob, error)
	Running(ctx context.Context, kind string) (*model.UpdateJob, error)
	Latest(ctx context.Context, kind string) (*model.UpdateJob, error)
	List(ctx context.Context, kind string, limit int) ([]model.UpdateJob, error)
	UpdateProgress(ctx context.Context, id int64, p model.JobProgress) error
	Finish(ctx context.Context, id int64, status string, p model.JobProgress, errorMsg string) error
	FailStale(ctx context.Context, kind string, before time.Time) (int64, error)
}

// CandleFetcher retrieves daily candles for one symbol
type CandleFetcher interface {
	FetchDailyCandles(ctx context.Context, isin string, from, to time.Time) ([]client.Candle, error)
}

// ArchiveDownloader retrieves the bulk end-of-day archive
type ArchiveDownloader interface {
	Download(ctx context.Context, date time.Time) (*client.Archive, error)
}

// QueryCache holds computed query results
type QueryCache interface {
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}) error
	Invalidate(ctx context.Context) error
}
