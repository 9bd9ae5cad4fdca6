package model

import (
	"time"

	"github.com/guregu/null/v6"
	"github.com/shopspring/decimal"
)

// Bar sources
const (
	SourceUpstox   = "upstox"
	SourceBhavcopy = "bhavcopy"
)

// PriceBar is one daily OHLCV observation for an ISIN. Prices are nullable
// because the bulk feed may leave fields blank.
type PriceBar struct {
	ISIN         string              `json:"isin" db:"isin"`
	Date         time.Time           `json:"date" db:"trade_date"`
	Open         decimal.NullDecimal `json:"open" db:"open"`
	High         decimal.NullDecimal `json:"high" db:"high"`
	Low          decimal.NullDecimal `json:"low" db:"low"`
	Close        decimal.NullDecimal `json:"close" db:"close"`
	Volume       null.Int            `json:"volume" db:"volume"`
	OpenInterest null.Int            `json:"open_interest" db:"open_interest"`
	Source       string              `json:"source" db:"source"`
}

// Closes extracts the close column of a series
func Closes(bars []PriceBar) []decimal.NullDecimal {
	closes := make([]decimal.NullDecimal, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// ImportSummary reports the outcome of a bulk bhav-copy import
type ImportSummary struct {
	Inserted       int    `json:"inserted"`
	Skipped        int    `json:"skipped"`
	Errors         int    `json:"errors"`
	TotalProcessed int    `json:"total_processed"`
	ArchiveKey     string `json:"archive_key,omitempty"`
}
