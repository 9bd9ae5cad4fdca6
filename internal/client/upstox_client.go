package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kavish224/financial-tools/internal/config"
	"github.com/kavish224/financial-tools/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrNoData means the API answered successfully with no candles
	ErrNoData = errors.New("no candles returned")
	// ErrFetchFailed wraps every transport, status and payload failure
	ErrFetchFailed = errors.New("candle fetch failed")
)

// Candle is one daily candle as returned by the historical candle API
type Candle struct {
	Time         time.Time
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	Volume       int64
	OpenInterest null.Int
}

// PriceBar converts the candle into a stored bar for isin
func (c Candle) PriceBar(isin string) model.PriceBar {
	return model.PriceBar{
		ISIN:         isin,
		Date:         model.Day(c.Time),
		Open:         decimal.NewNullDecimal(c.Open),
		High:         decimal.NewNullDecimal(c.High),
		Low:          decimal.NewNullDecimal(c.Low),
		Close:        decimal.NewNullDecimal(c.Close),
		Volume:       null.IntFrom(c.Volume),
		OpenInterest: c.OpenInterest,
		Source:       model.SourceUpstox,
	}
}

type historicalCandleResponse struct {
	Status string `json:"status"`
	Data   *struct {
		Candles *[][]interface{} `json:"candles"`
	} `json:"data"`
}

// UpstoxClient handles communication with the Upstox historical candle API
type UpstoxClient struct {
	baseURL         string
	exchangeSegment string
	accessToken     string
	maxRetries      uint64
	retryInterval   time.Duration
	httpClient      *http.Client
	logger          *zap.Logger
}

// NewUpstoxClient creates a new Upstox API client
func NewUpstoxClient(cfg config.UpstoxConfig, logger *zap.Logger) *UpstoxClient {
	return &UpstoxClient{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		exchangeSegment: cfg.ExchangeSegment,
		accessToken:     cfg.AccessToken,
		maxRetries:      cfg.MaxRetries,
		retryInterval:   cfg.RetryInterval,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// FetchDailyCandles retrieves daily candles for isin between from and to,
// both inclusive. Transient failures are retried with exponential backoff.
func (c *UpstoxClient) FetchDailyCandles(ctx context.Context, isin string, from, to time.Time) ([]Candle, error) {
	instrument := url.PathEscape(c.exchangeSegment + "|" + isin)
	reqURL := fmt.Sprintf("%s/historical-candle/%s/day/%s/%s",
		c.baseURL, instrument, to.Format(model.DateLayout), from.Format(model.DateLayout))

	c.logger.Debug("Calling Upstox API", zap.String("url", reqURL))

	var candles []Candle
	operation := func() error {
		var err error
		candles, err = c.fetch(ctx, reqURL)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)

	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		c.logger.Warn("Retrying Upstox request",
			zap.Error(err),
			zap.String("isin", isin),
			zap.Duration("wait", wait))
	})
	if err != nil {
		return nil, err
	}

	return candles, nil
}

// fetch performs one request. Errors that retrying cannot fix are wrapped in
// backoff.Permanent.
func (c *UpstoxClient) fetch(ctx context.Context, reqURL string) ([]Candle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: failed to create request: %v", ErrFetchFailed, err))
	}
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrFetchFailed, ctx.Err()))
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("Upstox API error response",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("response", string(bodyBytes)))

		err := fmt.Errorf("%w: Upstox API returned status code %d: %s", ErrFetchFailed, resp.StatusCode, string(bodyBytes))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()

	var payload historicalCandleResponse
	if err := decoder.Decode(&payload); err != nil {
		c.logger.Error("Failed to decode Upstox candles", zap.Error(err))
		return nil, backoff.Permanent(fmt.Errorf("%w: failed to decode candles: %v", ErrFetchFailed, err))
	}

	if payload.Data == nil || payload.Data.Candles == nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: response has no data.candles", ErrFetchFailed))
	}

	raw := *payload.Data.Candles
	if len(raw) == 0 {
		return nil, backoff.Permanent(ErrNoData)
	}

	candles := make([]Candle, 0, len(raw))
	for i, tuple := range raw {
		candle, err := parseCandle(tuple)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: candle %d: %v", ErrFetchFailed, i, err))
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

// parseCandle decodes [timestamp, open, high, low, close, volume, oi?]
func parseCandle(tuple []interface{}) (Candle, error) {
	if len(tuple) < 6 {
		return Candle{}, fmt.Errorf("expected at least 6 fields, got %d", len(tuple))
	}

	ts, ok := tuple[0].(string)
	if !ok {
		return Candle{}, fmt.Errorf("timestamp is not a string")
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return Candle{}, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}

	var prices [4]decimal.Decimal
	for i := range prices {
		prices[i], err = toDecimal(tuple[i+1])
		if err != nil {
			return Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}

	volume, err := toDecimal(tuple[5])
	if err != nil {
		return Candle{}, fmt.Errorf("volume: %w", err)
	}

	candle := Candle{
		Time:   t,
		Open:   prices[0],
		High:   prices[1],
		Low:    prices[2],
		Close:  prices[3],
		Volume: volume.IntPart(),
	}

	if len(tuple) > 6 && tuple[6] != nil {
		if oi, err := toDecimal(tuple[6]); err == nil {
			candle.OpenInterest = null.IntFrom(oi.IntPart())
		}
	}

	return candle, nil
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(n)
	case float64:
		return decimal.NewFromFloat(n), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unexpected value %v", v)
	}
}
