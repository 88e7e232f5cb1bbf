package core

import (
	"errors"
	"fmt"
)

// Standardized exchange errors. Wire adapters map remote error codes onto
// these so callers never string-match message text.
var (
	ErrSymbolNotFound       = errors.New("symbol not found")
	ErrNoPosition           = errors.New("no open position")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrTimeout              = errors.New("request timed out")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidOrderParam    = errors.New("invalid order parameter")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrServiceUnavailable   = errors.New("service temporarily unavailable")
	ErrEntitlementLapsed    = errors.New("entitlement lapsed")
)

// ExchangeError is a classified error returned by the remote exchange.
type ExchangeError struct {
	Code      int
	Message   string
	Transient bool
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// IsTransient reports whether an error is worth retrying. Transient errors
// are rate limits, timeouts, and network-level failures; everything else is
// treated as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.Transient
	}
	return errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNetwork)
}
