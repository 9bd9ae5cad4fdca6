package indicator

import (
	"time"

	"github.com/kavish224/financial-tools/internal/model"
	"github.com/shopspring/decimal"
)

// ProximityResult describes how close the latest close is to its SMA
type ProximityResult struct {
	Date         time.Time
	Close        decimal.Decimal
	SMA          decimal.Decimal
	DeviationPct decimal.Decimal
	Qualifies    bool
}

// Deviation returns |close-sma| / sma * 100
func Deviation(close, sma decimal.Decimal) decimal.Decimal {
	return close.Sub(sma).Abs().Div(sma).Mul(hundred)
}

// Proximity evaluates the latest bar of an ascending series against its
// window-day SMA. ok is false when the series is shorter than window, the
// latest close is null, or the SMA is undefined or zero.
func Proximity(bars []model.PriceBar, window int, threshold decimal.Decimal) (ProximityResult, bool) {
	if window < 1 || len(bars) < window {
		return ProximityResult{}, false
	}

	last := bars[len(bars)-1]
	if !last.Close.Valid {
		return ProximityResult{}, false
	}

	sma, ok := LatestSMA(model.Closes(bars[len(bars)-window:]), window)
	if !ok || sma.IsZero() {
		return ProximityResult{}, false
	}

	dev := Deviation(last.Close.Decimal, sma)
	return ProximityResult{
		Date:         last.Date,
		Close:        last.Close.Decimal,
		SMA:          sma,
		DeviationPct: dev,
		Qualifies:    dev.LessThanOrEqual(threshold),
	}, true
}
