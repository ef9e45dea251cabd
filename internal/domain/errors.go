package domain

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrMissingField        = errors.New("missing required field")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrMalformedResponse   = errors.New("malformed store response")
	ErrNotFound            = errors.New("not found")
)

type EmptyCartError struct{}

func (EmptyCartError) Error() string { return ErrEmptyCart.Error() }

func (EmptyCartError) Unwrap() error { return ErrEmptyCart }

type MissingFieldError struct {
	Field string
}

func (e MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingField, e.Field)
}

func (e MissingFieldError) Unwrap() error { return ErrMissingField }

type InsufficientPaymentError struct {
	Required decimal.Decimal
	Received decimal.Decimal
}

func (e InsufficientPaymentError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Received)
}

func (e InsufficientPaymentError) Error() string {
	return fmt.Sprintf("%s: required %s, received %s, short by %s",
		ErrInsufficientPayment, e.Required.StringFixed(2), e.Received.StringFixed(2), e.Shortfall().StringFixed(2))
}

func (e InsufficientPaymentError) Unwrap() error { return ErrInsufficientPayment }

type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: product %s requested %d, available %d", ErrInsufficientStock, e.ProductID, e.Requested, e.Available)
}

func (e InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

func (e InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// StoreUnavailableError covers transport failures and non-success responses.
// StatusCode is zero when no response was received.
type StoreUnavailableError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *StoreUnavailableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s: status %d: %v", ErrStoreUnavailable, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}

// Retryable is false for 4xx responses other than 408 and 429.
func (e *StoreUnavailableError) Retryable() bool {
	switch {
	case e.StatusCode == 0, e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	}
	return false
}

type MalformedResponseError struct {
	Op  string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrMalformedResponse, e.Op, e.Err)
}

func (e *MalformedResponseError) Unwrap() []error {
	return []error{ErrMalformedResponse, e.Err}
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Resource, e.ID, ErrNotFound)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// IsValidation reports whether err is a caller error that must not be retried.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInsufficientPayment) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsRetryable reports whether err came from a store and may succeed on a manual retry.
func IsRetryable(err error) bool {
	var storeErr *StoreUnavailableError
	if errors.As(err, &storeErr) {
		return storeErr.Retryable()
	}
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrMalformedResponse)
}
