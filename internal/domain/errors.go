package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNoPosition         = errors.New("no open position")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInstrumentNotFound = errors.New("instrument not found")
)

type ExchangeErrorKind string

const (
	KindInsufficientBalance ExchangeErrorKind = "insufficient_balance"
	KindDuplicateOrder      ExchangeErrorKind = "duplicate_order"
	KindInvalidParameters   ExchangeErrorKind = "invalid_parameters"
	KindGeneric             ExchangeErrorKind = "generic"
)

// ExchangeError is a non-zero retCode response or a terminal order state
// reported by the exchange.
type ExchangeError struct {
	Kind    ExchangeErrorKind
	Code    int
	Message string
}

func (e *ExchangeError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange error %d (%s): %s", e.Code, e.Kind, e.Message)
	}
	return fmt.Sprintf("exchange error (%s): %s", e.Kind, e.Message)
}

// ClassifyExchangeError maps an exchange message onto the error taxonomy.
func ClassifyExchangeError(code int, msg string) *ExchangeError {
	lower := strings.ToLower(msg)
	kind := KindGeneric
	switch {
	case strings.Contains(lower, "not exist"):
		// "order not exists or too late to cancel" is a lookup miss, not a duplicate.
	case strings.Contains(lower, "insufficient"), strings.Contains(lower, "balance"):
		kind = KindInsufficientBalance
	case strings.Contains(lower, "duplicate"), strings.Contains(lower, "exists"):
		kind = KindDuplicateOrder
	case strings.Contains(lower, "invalid"):
		kind = KindInvalidParameters
	}
	return &ExchangeError{Kind: kind, Code: code, Message: msg}
}

// ValidationError rejects malformed input before anything reaches the exchange.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TimeoutError means a fill was not observed within the budget.
type TimeoutError struct {
	Symbol  string
	OrderID string
	After   time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("order %s on %s not filled after %s", e.OrderID, e.Symbol, e.After)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// ConsistencyError means verification still showed a position after all retries.
type ConsistencyError struct {
	Symbol    string
	Remaining float64
	Attempts  int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("position %s still open after %d attempts: remaining size %g", e.Symbol, e.Attempts, e.Remaining)
}

// IsExchangeKind reports whether err carries an ExchangeError of the given kind.
func IsExchangeKind(err error, kind ExchangeErrorKind) bool {
	var exErr *ExchangeError
	return errors.As(err, &exErr) && exErr.Kind == kind
}
