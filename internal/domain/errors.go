package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrLockHeld      = errors.New("lock already held")
	ErrLeaseLost     = errors.New("lease lost")

	ErrSymbolNotAllowed  = errors.New("symbol not in allow-list")
	ErrInvalidSymbol     = errors.New("unsupported symbol format")
	ErrNoMarketData      = errors.New("no market data available")
	ErrMarketUnsuitable  = errors.New("market unsuitable for grid trading")
	ErrTerminalStatus    = errors.New("status is terminal")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCritical          = errors.New("critical health failure")
)

// Exchange business errors. These are never retried.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrBelowMinimum        = errors.New("order below minimum notional")
	ErrDuplicateOrder      = errors.New("duplicate order")
	ErrMarketClosed        = errors.New("market closed")
	ErrKYCRequired         = errors.New("insufficient verification level")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidTag          = errors.New("invalid tag")
	ErrInvalidOTP          = errors.New("invalid otp")
	ErrWithdrawUnavailable = errors.New("withdrawal unavailable")
	ErrExchangeRejected    = errors.New("exchange rejected request")
)

// ExchangeError is a failed exchange envelope mapped onto one of the
// business sentinels above.
type ExchangeError struct {
	Kind    error
	Code    string
	Message string
}

func (e *ExchangeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("exchange: %s (%s)", e.Kind, e.Code)
	}
	return fmt.Sprintf("exchange: %s (%s): %s", e.Kind, e.Code, e.Message)
}

func (e *ExchangeError) Unwrap() error { return e.Kind }

// RetriableError is implemented by errors that know whether a retry may
// succeed.
type RetriableError interface {
	error
	IsRetriable() bool
}

// TransportError wraps a network, timeout or HTTP status failure.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
	Retriable  bool
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: http %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) IsRetriable() bool { return e.Retriable }

func (e *TransportError) Unwrap() error { return e.Err }

// IsRetriable reports whether err is a transient failure worth retrying.
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}
