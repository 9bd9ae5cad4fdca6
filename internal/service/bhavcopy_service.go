package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/kavish224/financial-tools/internal/client"
	"github.com/kavish224/financial-tools/internal/events"
	"github.com/kavish224/financial-tools/internal/metrics"
	"github.com/kavish224/financial-tools/internal/model"
	"github.com/kavish224/financial-tools/internal/storage"

	"go.uber.org/zap"
)

const equitySeries = "EQ"

// BhavcopyService imports exchange bhav-copy files into the price series
type BhavcopyService struct {
	bars       PriceBarStore
	symbols    SymbolStore
	downloader ArchiveDownloader
	archive    storage.Archive
	cache      QueryCache
	publisher  events.Publisher
	topic      string
	metrics    *metrics.Metrics
	batchSize  int
	logger     *zap.Logger
	now        func() time.Time
}

// NewBhavcopyService creates a new bhav-copy service
func NewBhavcopyService(
	bars PriceBarStore,
	symbols SymbolStore,
	downloader ArchiveDownloader,
	archive storage.Archive,
	cache QueryCache,
	publisher events.Publisher,
	topic string,
	m *metrics.Metrics,
	batchSize int,
	logger *zap.Logger,
) *BhavcopyService {
	return &BhavcopyService{
		bars:       bars,
		symbols:    symbols,
		downloader: downloader,
		archive:    archive,
		cache:      cache,
		publisher:  publisher,
		topic:      topic,
		metrics:    m,
		batchSize:  max(batchSize, 1),
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock replaces the clock used to determine today
func (s *BhavcopyService) WithClock(now func() time.Time) *BhavcopyService {
	s.now = now
	return s
}

// Import reads a bhav-copy CSV and appends the equity rows of known symbols
func (s *BhavcopyService) Import(ctx context.Context, r io.Reader) (*model.ImportSummary, error) {
	isins, err := s.symbols.ListISINs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	known := make(map[string]struct{}, len(isins))
	for _, isin := range isins {
		known[isin] = struct{}{}
	}

	summary := &model.ImportSummary{}
	seen := make(map[string]struct{})
	tradeDates := make(map[string]struct{})
	batch := make([]model.PriceBar, 0, s.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		n, err := s.bars.AppendBatch(ctx, batch)
		if err != nil {
			s.logger.Error("Failed to insert bhav-copy batch",
				zap.Int("rows", len(batch)),
				zap.Error(err))
			summary.Errors += len(batch)
		} else {
			summary.Inserted += n
			summary.Skipped += len(batch) - n
		}
		batch = batch[:0]
	}

	parseErr := client.ParseBhavcopy(r, func(row client.BhavcopyRow) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if row.Err != nil {
			s.logger.Warn("Unreadable bhav-copy row", zap.Int("row", row.Line), zap.Error(row.Err))
			summary.Errors++
			return nil
		}

		if strings.TrimSpace(row.Series) != equitySeries {
			summary.Skipped++
			return nil
		}

		if !row.HasRequired() {
			s.logger.Warn("Bhav-copy row missing required fields", zap.Int("row", row.Line))
			summary.Errors++
			return nil
		}

		day, err := model.ParseDay(strings.TrimSpace(row.TradeDate))
		if err != nil {
			s.logger.Warn("Invalid bhav-copy trade date",
				zap.Int("row", row.Line),
				zap.String("trade_date", row.TradeDate))
			summary.Errors++
			return nil
		}

		isin := strings.TrimSpace(row.ISIN)
		if _, ok := known[isin]; !ok {
			summary.Skipped++
			return nil
		}

		// first row wins for a repeated (isin, date)
		key := isin + "|" + day.Format(model.DateLayout)
		if _, dup := seen[key]; dup {
			summary.Skipped++
			return nil
		}
		seen[key] = struct{}{}
		tradeDates[day.Format(model.DateLayout)] = struct{}{}

		batch = append(batch, model.PriceBar{
			ISIN:   isin,
			Date:   day,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
			Source: model.SourceBhavcopy,
		})
		if len(batch) >= s.batchSize {
			flush()
		}
		return nil
	})
	flush()

	summary.TotalProcessed = summary.Inserted + summary.Skipped + summary.Errors

	s.metrics.AddBars(model.SourceBhavcopy, summary.Inserted)
	s.metrics.AddBhavcopyRows("inserted", summary.Inserted)
	s.metrics.AddBhavcopyRows("skipped", summary.Skipped)
	s.metrics.AddBhavcopyRows("errors", summary.Errors)

	if parseErr != nil {
		return summary, fmt.Errorf("failed to parse bhav-copy: %w", parseErr)
	}

	if summary.Inserted > 0 {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("Failed to invalidate cache", zap.Error(err))
		}
	}

	s.logger.Info("Bhav-copy processed",
		zap.Int("inserted", summary.Inserted),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
		zap.Int("total_processed", summary.TotalProcessed))

	if len(tradeDates) == 1 {
		for d := range tradeDates {
			s.publish(ctx, d, summary)
		}
	} else {
		s.publish(ctx, "", summary)
	}

	return summary, nil
}

// ImportFile archives an uploaded .csv or .zip file and imports it
func (s *BhavcopyService) ImportFile(ctx context.Context, name string, data []byte) (*model.ImportSummary, error) {
	contentType := "text/csv"
	isZip := strings.EqualFold(path.Ext(name), ".zip") || bytes.HasPrefix(data, []byte("PK\x03\x04"))
	if isZip {
		contentType = "application/zip"
	}

	key, err := s.archive.Put(ctx, storage.UploadKey(name), data, contentType)
	if err != nil {
		s.logger.Warn("Failed to archive upload", zap.String("file", name), zap.Error(err))
		key = ""
	}

	var summary *model.ImportSummary
	if isZip {
		summary, err = s.importArchive(ctx, data)
	} else {
		summary, err = s.Import(ctx, bytes.NewReader(data))
	}
	if summary != nil {
		summary.ArchiveKey = key
	}
	return summary, err
}

// DownloadAndImport fetches the exchange archive for a trading day, keeps a
// raw copy and imports it
func (s *BhavcopyService) DownloadAndImport(ctx context.Context, date time.Time) (*model.ImportSummary, error) {
	day := model.Day(date)

	archive, err := s.downloader.Download(ctx, day)
	if err != nil {
		return nil, err
	}

	key, err := s.archive.Put(ctx, storage.DownloadKey(day, archive.Name), archive.Data, "application/zip")
	if err != nil {
		s.logger.Warn("Failed to archive bhav-copy download",
			zap.String("url", archive.URL),
			zap.Error(err))
		key = ""
	}

	summary, err := s.importArchive(ctx, archive.Data)
	if summary != nil {
		summary.ArchiveKey = key
	}
	return summary, err
}

// Today returns the current trading day in the service clock
func (s *BhavcopyService) Today() time.Time {
	return model.Day(s.now())
}

func (s *BhavcopyService) importArchive(ctx context.Context, data []byte) (*model.ImportSummary, error) {
	rc, name, err := client.OpenArchive(data)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	s.logger.Info("Importing bhav-copy archive", zap.String("file", name))
	return s.Import(ctx, rc)
}

func (s *BhavcopyService) publish(ctx context.Context, tradeDate string, summary *model.ImportSummary) {
	msg := events.NewMessage("bhavcopy", events.ImportEvent{
		Type:      events.TypeBhavcopyImported,
		TradeDate: tradeDate,
		Summary:   *summary,
		At:        s.now(),
	})
	if err := s.publisher.Publish(ctx, s.topic, msg); err != nil {
		s.logger.Warn("Failed to publish import event", zap.Error(err))
	}
}
