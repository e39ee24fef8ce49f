package services

import (
	"errors"
	"net/http"
)

// Business-rule errors surfaced to callers. None of these are retryable
// without a state change on the caller's side.
var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountDisabled     = errors.New("account disabled")
	ErrGiftNotFound        = errors.New("gift not found")
	ErrSelfGift            = errors.New("cannot send a gift to yourself")
	ErrBroadcasterNotFound = errors.New("no broadcaster for room")
	ErrSessionActive       = errors.New("private session already active")
	ErrNotAuthorized       = errors.New("caller not authorized for this session")
	ErrVoucherInvalid      = errors.New("voucher code not found")
	ErrVoucherUsed         = errors.New("voucher already redeemed")
	ErrVoucherExpired      = errors.New("voucher expired")
)

// StatusForError maps a service error to the HTTP status the handlers report.
// Unknown errors are treated as transient store failures.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrSelfGift):
		return http.StatusBadRequest
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrGiftNotFound),
		errors.Is(err, ErrBroadcasterNotFound),
		errors.Is(err, ErrVoucherInvalid):
		return http.StatusNotFound
	case errors.Is(err, ErrAccountDisabled), errors.Is(err, ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrSessionActive), errors.Is(err, ErrVoucherUsed):
		return http.StatusConflict
	case errors.Is(err, ErrVoucherExpired):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
