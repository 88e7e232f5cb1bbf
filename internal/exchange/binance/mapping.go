package binance

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"trend_trader/internal/core"
)

// Binance futures error codes the gateway reacts to.
const (
	codeTooManyRequests    = -1003
	codeServerBusy         = -1008
	codeTimeout            = -1007
	codeInvalidTimestamp   = -1021
	codeInvalidSymbol      = -1121
	codeInsufficientMargin = -2019
	codeNoNeedChangeMargin = -4046
	codeMarginWithPosition = -4047
	codeInvalidLeverage    = -4028
)

// classifyError maps a go-binance error onto the module's error taxonomy so
// the resilience layer can decide whether to retry.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		code := int(apiErr.Code)
		switch code {
		case codeTooManyRequests, codeServerBusy:
			return &core.ExchangeError{Code: code, Message: apiErr.Message, Transient: true}
		case codeTimeout, codeInvalidTimestamp:
			return &core.ExchangeError{Code: code, Message: apiErr.Message, Transient: true}
		case codeInvalidSymbol:
			return fmt.Errorf("%s: %w", apiErr.Message, core.ErrSymbolNotFound)
		case codeInsufficientMargin:
			return fmt.Errorf("%s: %w", apiErr.Message, core.ErrInsufficientFunds)
		case codeInvalidLeverage:
			return fmt.Errorf("%s: %w", apiErr.Message, core.ErrInvalidOrderParam)
		}
		if apiErr.Code <= -1100 && apiErr.Code > -1200 {
			// -11xx: request validation failures, never retryable.
			return fmt.Errorf("%s: %w", apiErr.Message, core.ErrInvalidOrderParam)
		}
		return &core.ExchangeError{Code: code, Message: apiErr.Message, Transient: false}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", core.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", core.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", core.ErrNetwork, err)
	}

	// Transport-level failures from the HTTP client surface as plain errors.
	return fmt.Errorf("%w: %v", core.ErrNetwork, err)
}

// isAPICode reports whether err is a Binance API error with the given code.
func isAPICode(err error, code int64) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// toCandle converts a REST kline to a domain candle. Historical klines are
// closed by definition.
func toCandle(k *futures.Kline) core.Candle {
	return core.Candle{
		OpenTime:         msToTime(k.OpenTime),
		Open:             mustDecimal(k.Open),
		High:             mustDecimal(k.High),
		Low:              mustDecimal(k.Low),
		Close:            mustDecimal(k.Close),
		Volume:           mustDecimal(k.Volume),
		CloseTime:        msToTime(k.CloseTime),
		QuoteVolume:      mustDecimal(k.QuoteAssetVolume),
		TradeCount:       k.TradeNum,
		TakerBuyVolume:   mustDecimal(k.TakerBuyBaseAssetVolume),
		TakerBuyQuoteVol: mustDecimal(k.TakerBuyQuoteAssetVolume),
		Closed:           true,
	}
}

// mustDecimal parses an exchange-formatted decimal string, falling back to
// zero on malformed input rather than failing the whole response.
func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
