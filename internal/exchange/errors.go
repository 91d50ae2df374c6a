package exchange

import (
	"errors"
	"strings"

	"github.com/adshao/go-binance/v2/common"
)

// ErrClass buckets exchange failures so callers can decide between retry,
// reject and abort without string matching.
type ErrClass string

const (
	ErrClassTransient         ErrClass = "transient"
	ErrClassRateLimited       ErrClass = "rate_limited"
	ErrClassRejected          ErrClass = "rejected"
	ErrClassInsufficientFunds ErrClass = "insufficient_funds"
	ErrClassInvalidParam      ErrClass = "invalid_param"
)

// Error is a classified exchange failure.
type Error struct {
	Class   ErrClass
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Class) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Class) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Classify maps an arbitrary error onto an ErrClass. Unknown errors are
// treated as transient so the retry layer gets a chance.
func Classify(err error) ErrClass {
	if err == nil {
		return ""
	}

	var xerr *Error
	if errors.As(err, &xerr) {
		return xerr.Class
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015: // too many requests
			return ErrClassRateLimited
		case -2010: // NEW_ORDER_REJECTED, covers insufficient balance
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
				return ErrClassInsufficientFunds
			}
			return ErrClassRejected
		case -1001: // internal error
			return ErrClassTransient
		case -1021: // timestamp outside recvWindow
			return ErrClassTransient
		case -1100, -1102, -1106, -1111, -1121: // bad params, bad symbol, bad precision
			return ErrClassInvalidParam
		}
		return ErrClassRejected
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return ErrClassRateLimited
	case strings.Contains(msg, "insufficient"):
		return ErrClassInsufficientFunds
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "temporary failure"),
		strings.Contains(msg, "eof"):
		return ErrClassTransient
	}

	return ErrClassTransient
}

// IsRetryable reports whether an operation that failed with err should be
// retried. Rejections and parameter errors never are.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ErrClassTransient, ErrClassRateLimited:
		return true
	default:
		return false
	}
}
