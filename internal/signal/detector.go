// Package signal computes the EMA crossover signal over a window of closed
// candles.
package signal

import (
	"trend_trader/internal/core"
)

// Default EMA periods for the trend-following crossover.
const (
	DefaultShortPeriod = 9
	DefaultLongPeriod  = 21
)

// Detector is a pure crossover detector. It holds only its periods; every
// call recomputes from the window it is given, so identical input always
// yields identical output.
type Detector struct {
	shortPeriod int
	longPeriod  int
}

// NewDetector returns a detector with the default 9/21 periods.
func NewDetector() *Detector {
	return NewDetectorWithPeriods(DefaultShortPeriod, DefaultLongPeriod)
}

// NewDetectorWithPeriods returns a detector with custom periods. The short
// period must be strictly smaller than the long one.
func NewDetectorWithPeriods(short, long int) *Detector {
	if short < 1 || long <= short {
		short, long = DefaultShortPeriod, DefaultLongPeriod
	}
	return &Detector{shortPeriod: short, longPeriod: long}
}

// LongPeriod returns the slow EMA period; the engine needs it to size the
// historical backfill.
func (d *Detector) LongPeriod() int {
	return d.longPeriod
}

// Detect returns LONG when the short EMA crossed above the long EMA between
// the last two samples, SHORT for the mirror crossing, and HOLD otherwise.
// Windows too small to show a crossing yield HOLD; insufficient data is not
// an error.
func (d *Detector) Detect(candles []core.Candle) core.Signal {
	// Two samples of the long EMA need longPeriod+1 closes.
	if len(candles) < d.longPeriod+1 {
		return core.SignalHold
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close.InexactFloat64()
	}

	shortEMA := emaSeries(closes, d.shortPeriod)
	longEMA := emaSeries(closes, d.longPeriod)

	// Align the two series on the last two samples.
	curShort, prevShort := shortEMA[len(shortEMA)-1], shortEMA[len(shortEMA)-2]
	curLong, prevLong := longEMA[len(longEMA)-1], longEMA[len(longEMA)-2]

	switch {
	case prevShort <= prevLong && curShort > curLong:
		return core.SignalLong
	case prevShort >= prevLong && curShort < curLong:
		return core.SignalShort
	default:
		return core.SignalHold
	}
}

// emaSeries computes the EMA of the closes. The seed is the simple average of
// the first period values; every later sample follows
// EMA[i] = close[i]*α + EMA[i-1]*(1-α) with α = 2/(period+1). The returned
// slice holds one sample per close from index period-1 onward.
func emaSeries(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nil
	}

	alpha := 2.0 / float64(period+1)

	var seed float64
	for _, c := range closes[:period] {
		seed += c
	}
	seed /= float64(period)

	out := make([]float64, 0, len(closes)-period+1)
	out = append(out, seed)

	prev := seed
	for _, c := range closes[period:] {
		prev = c*alpha + prev*(1-alpha)
		out = append(out, prev)
	}
	return out
}
