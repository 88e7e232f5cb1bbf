package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testCandle(i int, closed bool) Candle {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return Candle{
		OpenTime:  base.Add(time.Duration(i) * time.Minute),
		Close:     decimal.NewFromInt(int64(100 + i)),
		CloseTime: base.Add(time.Duration(i+1) * time.Minute),
		Closed:    closed,
	}
}

func TestCandleWindow_AppendEvictsOldest(t *testing.T) {
	w := NewCandleWindow(3)

	for i := 0; i < 5; i++ {
		w.Append(testCandle(i, true))
	}

	assert.Equal(t, 3, w.Len())
	snap := w.Snapshot()
	assert.Equal(t, decimal.NewFromInt(102), snap[0].Close)
	assert.Equal(t, decimal.NewFromInt(104), snap[2].Close)
}

func TestCandleWindow_IgnoresOpenCandles(t *testing.T) {
	w := NewCandleWindow(5)

	w.Append(testCandle(0, true))
	w.Append(testCandle(1, false))

	assert.Equal(t, 1, w.Len())
}

func TestCandleWindow_FillKeepsTail(t *testing.T) {
	w := NewCandleWindow(3)

	candles := make([]Candle, 10)
	for i := range candles {
		candles[i] = testCandle(i, true)
	}
	w.Fill(candles)

	assert.Equal(t, 3, w.Len())
	last, ok := w.Last()
	assert.True(t, ok)
	assert.Equal(t, decimal.NewFromInt(109), last.Close)
}

func TestCandleWindow_SnapshotIsACopy(t *testing.T) {
	w := NewCandleWindow(3)
	w.Append(testCandle(0, true))

	snap := w.Snapshot()
	snap[0].Close = decimal.NewFromInt(-1)

	fresh := w.Snapshot()
	assert.Equal(t, decimal.NewFromInt(100), fresh[0].Close)
}

func TestCandleWindow_LastOnEmpty(t *testing.T) {
	w := NewCandleWindow(3)
	_, ok := w.Last()
	assert.False(t, ok)
}
