package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/kavish224/financial-tools/internal/config"

	"go.uber.org/zap"
)

// ErrArchiveNotFound means the exchange has no archive for the requested day
// (holiday, weekend, or not yet published)
var ErrArchiveNotFound = errors.New("bhavcopy archive not found")

// Archive is a downloaded bhav-copy zip
type Archive struct {
	Date time.Time
	Name string
	URL  string
	Data []byte
}

// BhavcopyClient downloads the end-of-day bulk archive from the exchange
type BhavcopyClient struct {
	urlTemplate string
	userAgent   string
	referer     string
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewBhavcopyClient creates a new bhav-copy client
func NewBhavcopyClient(cfg config.BhavcopyConfig, logger *zap.Logger) *BhavcopyClient {
	return &BhavcopyClient{
		urlTemplate: cfg.URLTemplate,
		userAgent:   cfg.UserAgent,
		referer:     cfg.Referer,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// ArchiveURL returns the download URL for a trading day
func (c *BhavcopyClient) ArchiveURL(date time.Time) string {
	return fmt.Sprintf(c.urlTemplate, date.Format("20060102"))
}

// Download fetches the archive for a trading day
func (c *BhavcopyClient) Download(ctx context.Context, date time.Time) (*Archive, error) {
	reqURL := c.ArchiveURL(date)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.referer != "" {
		req.Header.Set("Referer", c.referer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to download bhav-copy", zap.Error(err), zap.String("url", reqURL))
		return nil, fmt.Errorf("failed to download bhav-copy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, date.Format("2006-01-02"))
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Error("Bhav-copy download error response",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("url", reqURL),
			zap.String("response", string(bodyBytes)))
		return nil, fmt.Errorf("bhav-copy download returned status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read bhav-copy body: %w", err)
	}

	name := path.Base(strings.SplitN(reqURL, "?", 2)[0])
	c.logger.Info("Downloaded bhav-copy",
		zap.String("name", name),
		zap.Int("bytes", len(data)))

	return &Archive{
		Date: date,
		Name: name,
		URL:  reqURL,
		Data: data,
	}, nil
}
