package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalKind identifies the rule that produced a signal result
type SignalKind string

const (
	SignalProximity   SignalKind = "proximity"
	SignalGoldenCross SignalKind = "golden_cross"
	SignalDeathCross  SignalKind = "death_cross"
)

// SignalParams identifies one parameter set of a signal rule. LongPeriod is 0
// for proximity, Threshold is 0 for crossovers.
type SignalParams struct {
	Kind        SignalKind      `json:"kind"`
	ShortPeriod int             `json:"short_period"`
	LongPeriod  int             `json:"long_period"`
	Threshold   decimal.Decimal `json:"threshold_pct"`
}

// SignalResult is a persisted signal for one symbol on one as-of day
type SignalResult struct {
	ID           int64               `json:"id" db:"id"`
	ISIN         string              `json:"isin" db:"isin"`
	Symbol       string              `json:"symbol" db:"symbol"`
	Kind         SignalKind          `json:"kind" db:"kind"`
	ShortPeriod  int                 `json:"short_period" db:"short_period"`
	LongPeriod   int                 `json:"long_period" db:"long_period"`
	ThresholdPct decimal.Decimal     `json:"threshold_pct" db:"threshold_pct"`
	SignalDate   time.Time           `json:"signal_date" db:"signal_date"`
	ClosePrice   decimal.Decimal     `json:"close_price" db:"close_price"`
	SMAValue     decimal.Decimal     `json:"sma_value" db:"sma_value"`
	LongSMAValue decimal.NullDecimal `json:"long_sma_value" db:"long_sma_value"`
	DeviationPct decimal.NullDecimal `json:"deviation_pct" db:"deviation_pct"`
	GeneratedAt  time.Time           `json:"generated_at" db:"generated_at"`
}

// Params returns the parameter set the result was computed with
func (r SignalResult) Params() SignalParams {
	return SignalParams{Kind: r.Kind, ShortPeriod: r.ShortPeriod, LongPeriod: r.LongPeriod, Threshold: r.ThresholdPct}
}

// NearSMAResult is the API shape of a proximity hit
type NearSMAResult struct {
	ISIN         string          `json:"isin"`
	Symbol       string          `json:"symbol"`
	Date         string          `json:"date"`
	Close        decimal.Decimal `json:"close"`
	SMA          decimal.Decimal `json:"sma"`
	ProximityPct decimal.Decimal `json:"proximity_pct"`
}

// CrossingReport is the API shape of an SMA crossing event
type CrossingReport struct {
	Symbol    string              `json:"symbol"`
	StockName string              `json:"stock_name"`
	Date      string              `json:"date"`
	Price     decimal.Decimal     `json:"price"`
	SMA       decimal.Decimal     `json:"sma"`
	LongSMA   decimal.NullDecimal `json:"long_sma,omitempty"`
	Crossing  string              `json:"crossing"`
}
