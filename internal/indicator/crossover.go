package indicator

import (
	"sort"
	"time"

	"github.com/kavish224/financial-tools/internal/model"
	"github.com/shopspring/decimal"
)

// Direction of a crossing
type Direction string

const (
	CrossAbove  Direction = "above"
	CrossBelow  Direction = "below"
	CrossGolden Direction = "golden"
	CrossDeath  Direction = "death"
)

// Crossing is one day on which a series crossed its reference line.
// For price crossings SMA is the single moving average and LongSMA is null;
// for dual crossings SMA is the short average and LongSMA the long one.
type Crossing struct {
	Date      time.Time
	Close     decimal.Decimal
	SMA       decimal.Decimal
	LongSMA   decimal.NullDecimal
	Direction Direction
}

// crossesUp reports a strict cross from below to above. Equality on either
// day is not a crossing.
func crossesUp(prevA, prevB, curA, curB decimal.Decimal) bool {
	return prevA.LessThan(prevB) && curA.GreaterThan(curB)
}

func crossesDown(prevA, prevB, curA, curB decimal.Decimal) bool {
	return prevA.GreaterThan(prevB) && curA.LessThan(curB)
}

// PriceCrossings finds every day the close crossed its window-day SMA.
func PriceCrossings(bars []model.PriceBar, window int) []Crossing {
	closes := model.Closes(bars)
	sma := SMA(closes, window)

	var out []Crossing
	for i := 1; i < len(bars); i++ {
		if !closes[i-1].Valid || !closes[i].Valid || !sma[i-1].Valid || !sma[i].Valid {
			continue
		}

		var dir Direction
		switch {
		case crossesUp(closes[i-1].Decimal, sma[i-1].Decimal, closes[i].Decimal, sma[i].Decimal):
			dir = CrossAbove
		case crossesDown(closes[i-1].Decimal, sma[i-1].Decimal, closes[i].Decimal, sma[i].Decimal):
			dir = CrossBelow
		default:
			continue
		}

		out = append(out, Crossing{
			Date:      bars[i].Date,
			Close:     closes[i].Decimal,
			SMA:       sma[i].Decimal,
			Direction: dir,
		})
	}

	return out
}

// SMACrossings finds every golden (short above long) and death (short below
// long) cross in the series.
func SMACrossings(bars []model.PriceBar, short, long int) []Crossing {
	closes := model.Closes(bars)
	fast := SMA(closes, short)
	slow := SMA(closes, long)

	var out []Crossing
	for i := 1; i < len(bars); i++ {
		if c, ok := dualCross(bars[i], fast[i-1], slow[i-1], fast[i], slow[i]); ok {
			out = append(out, c)
		}
	}

	return out
}

// LatestSMACross compares only the last two points of the short and long
// averages.
func LatestSMACross(bars []model.PriceBar, short, long int) (Crossing, bool) {
	n := len(bars)
	if n < 2 || n < long+1 || n < short+1 {
		return Crossing{}, false
	}

	closes := model.Closes(bars)
	prevFast, ok1 := LatestSMA(closes[:n-1], short)
	prevSlow, ok2 := LatestSMA(closes[:n-1], long)
	curFast, ok3 := LatestSMA(closes, short)
	curSlow, ok4 := LatestSMA(closes, long)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Crossing{}, false
	}

	return dualCross(
		bars[n-1],
		decimal.NewNullDecimal(prevFast),
		decimal.NewNullDecimal(prevSlow),
		decimal.NewNullDecimal(curFast),
		decimal.NewNullDecimal(curSlow),
	)
}

func dualCross(bar model.PriceBar, prevFast, prevSlow, curFast, curSlow decimal.NullDecimal) (Crossing, bool) {
	if !prevFast.Valid || !prevSlow.Valid || !curFast.Valid || !curSlow.Valid || !bar.Close.Valid {
		return Crossing{}, false
	}

	var dir Direction
	switch {
	case crossesUp(prevFast.Decimal, prevSlow.Decimal, curFast.Decimal, curSlow.Decimal):
		dir = CrossGolden
	case crossesDown(prevFast.Decimal, prevSlow.Decimal, curFast.Decimal, curSlow.Decimal):
		dir = CrossDeath
	default:
		return Crossing{}, false
	}

	return Crossing{
		Date:      bar.Date,
		Close:     bar.Close.Decimal,
		SMA:       curFast.Decimal,
		LongSMA:   curSlow,
		Direction: dir,
	}, true
}

// AsOf returns the prefix of an ascending series dated on or before day.
func AsOf(bars []model.PriceBar, day time.Time) []model.PriceBar {
	cutoff := model.Day(day)
	i := sort.Search(len(bars), func(i int) bool {
		return model.Day(bars[i].Date).After(cutoff)
	})
	return bars[:i]
}
