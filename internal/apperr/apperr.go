// Package apperr defines the typed failures shared by the cart, wishlist and
// checkout services. Services only ever return these; the HTTP layer is the
// one place that turns a Kind into a status code.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound                Kind = "NOT_FOUND"
	KindVariantUnavailable      Kind = "VARIANT_UNAVAILABLE"
	KindLineNotFound            Kind = "LINE_NOT_FOUND"
	KindEmptyCart               Kind = "EMPTY_CART"
	KindMissingAddress          Kind = "MISSING_ADDRESS"
	KindCouponInvalid           Kind = "COUPON_INVALID"
	KindPaymentInitiationFailed Kind = "PAYMENT_INITIATION_FAILED"
	KindDuplicateCallback       Kind = "DUPLICATE_CALLBACK"
	KindUpstreamTimeout         Kind = "UPSTREAM_TIMEOUT"
	KindValidation              Kind = "VALIDATION"
	KindConflict                Kind = "CONFLICT"
	KindInternal                Kind = "INTERNAL"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind so callers can write errors.Is(err, apperr.EmptyCart).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons.
var (
	NotFound                = &Error{Kind: KindNotFound}
	VariantUnavailable      = &Error{Kind: KindVariantUnavailable}
	LineNotFound            = &Error{Kind: KindLineNotFound}
	EmptyCart               = &Error{Kind: KindEmptyCart}
	MissingAddress          = &Error{Kind: KindMissingAddress}
	CouponInvalid           = &Error{Kind: KindCouponInvalid}
	PaymentInitiationFailed = &Error{Kind: KindPaymentInitiationFailed}
	DuplicateCallback       = &Error{Kind: KindDuplicateCallback}
	UpstreamTimeout         = &Error{Kind: KindUpstreamTimeout}
	Validation              = &Error{Kind: KindValidation}
	Conflict                = &Error{Kind: KindConflict}
	Internal                = &Error{Kind: KindInternal}
)

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind carried by err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUpstreamTimeout
	}
	return KindInternal
}

// MessageOf returns a message suitable for a client response.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	switch KindOf(err) {
	case KindUpstreamTimeout:
		return "upstream service timed out"
	default:
		return "internal server error"
	}
}

// FromContext converts a context failure into an UpstreamTimeout. Any other
// error is returned unchanged.
func FromContext(upstream string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindUpstreamTimeout, upstream+" timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(KindUpstreamTimeout, upstream+" call canceled", err)
	}
	return err
}
