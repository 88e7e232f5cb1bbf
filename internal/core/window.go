package core

// CandleWindow is a fixed-size sliding window of closed candles. Append
// evicts the oldest entry once the window is full. The window is owned and
// mutated exclusively by one engine goroutine; it is not safe for concurrent
// use.
type CandleWindow struct {
	max     int
	candles []Candle
}

// NewCandleWindow creates an empty window holding at most max candles.
func NewCandleWindow(max int) *CandleWindow {
	if max < 1 {
		max = 1
	}
	return &CandleWindow{
		max:     max,
		candles: make([]Candle, 0, max),
	}
}

// Append adds a closed candle, evicting the oldest when the window is full.
// Open candles are ignored.
func (w *CandleWindow) Append(c Candle) {
	if !c.Closed {
		return
	}
	if len(w.candles) == w.max {
		copy(w.candles, w.candles[1:])
		w.candles = w.candles[:w.max-1]
	}
	w.candles = append(w.candles, c)
}

// Fill replaces the window contents with the tail of the given backfill,
// keeping at most the window capacity.
func (w *CandleWindow) Fill(candles []Candle) {
	w.candles = w.candles[:0]
	for _, c := range candles {
		w.Append(c)
	}
}

// Len returns the number of candles currently held.
func (w *CandleWindow) Len() int {
	return len(w.candles)
}

// Snapshot returns a copy of the window contents, oldest first.
func (w *CandleWindow) Snapshot() []Candle {
	out := make([]Candle, len(w.candles))
	copy(out, w.candles)
	return out
}

// Last returns the most recent candle and whether the window is non-empty.
func (w *CandleWindow) Last() (Candle, bool) {
	if len(w.candles) == 0 {
		return Candle{}, false
	}
	return w.candles[len(w.candles)-1], true
}
