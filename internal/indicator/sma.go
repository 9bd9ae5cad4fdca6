// Package indicator computes moving averages and the signals derived from
// them over ascending daily price series. Every function is pure.
package indicator

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SMA returns the simple moving average of closes over window points. The
// first window-1 outputs are null, as is any output whose trailing window
// contains a null close.
func SMA(closes []decimal.NullDecimal, window int) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, len(closes))
	if window < 1 {
		return out
	}

	w := decimal.NewFromInt(int64(window))
	sum := decimal.Zero
	nulls := 0

	for i, c := range closes {
		if c.Valid {
			sum = sum.Add(c.Decimal)
		} else {
			nulls++
		}

		if i >= window {
			old := closes[i-window]
			if old.Valid {
				sum = sum.Sub(old.Decimal)
			} else {
				nulls--
			}
		}

		if i >= window-1 && nulls == 0 {
			out[i] = decimal.NewNullDecimal(sum.Div(w))
		}
	}

	return out
}

// LatestSMA returns the SMA of the last window closes, if defined.
func LatestSMA(closes []decimal.NullDecimal, window int) (decimal.Decimal, bool) {
	if window < 1 || len(closes) < window {
		return decimal.Zero, false
	}

	sum := decimal.Zero
	for _, c := range closes[len(closes)-window:] {
		if !c.Valid {
			return decimal.Zero, false
		}
		sum = sum.Add(c.Decimal)
	}

	return sum.Div(decimal.NewFromInt(int64(window))), true
}

// Round2 rounds a value to two decimal places for presentation
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
