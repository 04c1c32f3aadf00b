package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error independently of its message.
type Kind string

const (
	KindInvalidParameters    Kind = "INVALID_PARAMETERS"
	KindInvalidAmount        Kind = "INVALID_AMOUNT"
	KindWalletNotFound       Kind = "WALLET_NOT_FOUND"
	KindWalletInactive       Kind = "WALLET_INACTIVE"
	KindDailyLimitExceeded   Kind = "DAILY_LIMIT_EXCEEDED"
	KindMonthlyLimitExceeded Kind = "MONTHLY_LIMIT_EXCEEDED"
	KindRecordNotFound       Kind = "RECORD_NOT_FOUND"
	KindInvalidStatus        Kind = "INVALID_STATUS"
	KindCodeExpired          Kind = "CODE_EXPIRED"
	KindInvalidCode          Kind = "INVALID_CODE"
	KindInsufficientBalance  Kind = "INSUFFICIENT_BALANCE"
	KindSelfTransferRejected Kind = "SELF_TRANSFER_REJECTED"
	KindGenerationFailed     Kind = "GENERATION_FAILED"
	KindVerificationFailed   Kind = "VERIFICATION_FAILED"
	// KindUnavailable marks infrastructure failures (timeouts, lost connections).
	// These are the only errors a caller may retry.
	KindUnavailable Kind = "UNAVAILABLE"
)

// Sentinels for errors.Is comparisons. Matching is by kind, so a wrapped
// *Error carrying a custom reason still matches its sentinel.
var (
	ErrInvalidParameters    = &Error{Kind: KindInvalidParameters}
	ErrInvalidAmount        = &Error{Kind: KindInvalidAmount}
	ErrWalletNotFound       = &Error{Kind: KindWalletNotFound}
	ErrWalletInactive       = &Error{Kind: KindWalletInactive}
	ErrDailyLimitExceeded   = &Error{Kind: KindDailyLimitExceeded}
	ErrMonthlyLimitExceeded = &Error{Kind: KindMonthlyLimitExceeded}
	ErrRecordNotFound       = &Error{Kind: KindRecordNotFound}
	ErrInvalidStatus        = &Error{Kind: KindInvalidStatus}
	ErrCodeExpired          = &Error{Kind: KindCodeExpired}
	ErrInvalidCode          = &Error{Kind: KindInvalidCode}
	ErrInsufficientBalance  = &Error{Kind: KindInsufficientBalance}
	ErrSelfTransfer         = &Error{Kind: KindSelfTransferRejected}
	ErrGenerationFailed     = &Error{Kind: KindGenerationFailed}
	ErrVerificationFailed   = &Error{Kind: KindVerificationFailed}
	ErrUnavailable          = &Error{Kind: KindUnavailable}
)

// Error is a typed, user-visible error carrying its kind and a readable reason.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

// New builds an error of the given kind.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf builds an error of the given kind with a formatted reason.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Reason == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Reason == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf extracts the kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Unavailable wraps an infrastructure failure as a retryable error.
func Unavailable(op string, err error) *Error {
	return &Error{Kind: KindUnavailable, Reason: op, Err: err}
}

// Retryable reports whether the caller may safely retry the operation.
// Context deadline and network-level failures are retryable; business
// rule violations never are.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindUnavailable {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// HTTPStatus maps a kind onto the status code used by the HTTP surface.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidParameters, KindInvalidAmount, KindInvalidCode, KindSelfTransferRejected:
		return http.StatusBadRequest
	case KindWalletNotFound, KindRecordNotFound:
		return http.StatusNotFound
	case KindWalletInactive, KindInvalidStatus:
		return http.StatusConflict
	case KindCodeExpired:
		return http.StatusGone
	case KindDailyLimitExceeded, KindMonthlyLimitExceeded, KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
