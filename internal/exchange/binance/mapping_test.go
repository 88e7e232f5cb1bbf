package binance

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trend_trader/internal/core"
)

func apiError(code int64, msg string) error {
	return &common.APIError{Code: code, Message: msg}
}

func TestClassifyError_TransientCodes(t *testing.T) {
	for _, code := range []int64{codeTooManyRequests, codeServerBusy, codeTimeout, codeInvalidTimestamp} {
		err := classifyError(apiError(code, "boom"))
		require.Error(t, err)
		assert.True(t, core.IsTransient(err), "code %d should be transient", code)
	}
}

func TestClassifyError_PermanentCodes(t *testing.T) {
	err := classifyError(apiError(codeInvalidSymbol, "unknown symbol"))
	assert.ErrorIs(t, err, core.ErrSymbolNotFound)
	assert.False(t, core.IsTransient(err))

	err = classifyError(apiError(codeInsufficientMargin, "margin is insufficient"))
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)

	err = classifyError(apiError(codeInvalidLeverage, "leverage not valid"))
	assert.ErrorIs(t, err, core.ErrInvalidOrderParam)

	// -11xx request validation range.
	err = classifyError(apiError(-1111, "precision over the maximum"))
	assert.ErrorIs(t, err, core.ErrInvalidOrderParam)
	assert.False(t, core.IsTransient(err))
}

func TestClassifyError_UnknownAPICodeIsPermanent(t *testing.T) {
	err := classifyError(apiError(-9999, "mystery"))
	require.Error(t, err)
	assert.False(t, core.IsTransient(err))

	var ee *core.ExchangeError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, -9999, ee.Code)
}

func TestClassifyError_ContextAndTransport(t *testing.T) {
	err := classifyError(context.DeadlineExceeded)
	assert.ErrorIs(t, err, core.ErrTimeout)
	assert.True(t, core.IsTransient(err))

	assert.ErrorIs(t, classifyError(context.Canceled), context.Canceled)

	err = classifyError(fmt.Errorf("connection refused"))
	assert.ErrorIs(t, err, core.ErrNetwork)
	assert.True(t, core.IsTransient(err))

	assert.NoError(t, classifyError(nil))
}

func TestIsAPICode(t *testing.T) {
	assert.True(t, isAPICode(apiError(codeNoNeedChangeMargin, "no need"), codeNoNeedChangeMargin))
	assert.False(t, isAPICode(apiError(codeNoNeedChangeMargin, "no need"), codeMarginWithPosition))
	assert.False(t, isAPICode(errors.New("plain"), codeNoNeedChangeMargin))
}

func TestToCandle(t *testing.T) {
	k := &futures.Kline{
		OpenTime:                 1718000000000,
		CloseTime:                1718000059999,
		Open:                     "100.1",
		High:                     "101.2",
		Low:                      "99.3",
		Close:                    "100.9",
		Volume:                   "12.5",
		QuoteAssetVolume:         "1260.0",
		TradeNum:                 321,
		TakerBuyBaseAssetVolume:  "6.0",
		TakerBuyQuoteAssetVolume: "605.0",
	}

	c := toCandle(k)
	assert.True(t, c.Closed)
	assert.Equal(t, "100.9", c.Close.String())
	assert.Equal(t, int64(321), c.TradeCount)
	assert.Equal(t, int64(1718000000000), c.OpenTime.UnixMilli())
	assert.Equal(t, int64(1718000059999), c.CloseTime.UnixMilli())
}

func TestMustDecimal(t *testing.T) {
	assert.Equal(t, "1.5", mustDecimal("1.5").String())
	assert.True(t, mustDecimal("not-a-number").IsZero())
	assert.True(t, mustDecimal("").IsZero())
}

func TestNewClientOrderID(t *testing.T) {
	a := newClientOrderID()
	b := newClientOrderID()

	assert.NotEqual(t, a, b)
	assert.LessOrEqual(t, len(a), 36)
	assert.Contains(t, a, "tt-")
}
