// Package scrapeerr provides the error taxonomy used across the crawl pipeline.
package scrapeerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind categorizes errors for handling decisions.
type Kind int

const (
	// Unknown is an uncategorized error.
	Unknown Kind = iota
	// Timeout is a transient wait/navigation timeout; retried with backoff.
	Timeout
	// Navigation is a non-timeout browser/navigation failure.
	Navigation
	// Term means the crawl of one search term was abandoned.
	Term
	// ProductReview means the review crawl of one product (or star pass) was abandoned.
	ProductReview
	// Auth is an authentication failure; fatal to the whole run.
	Auth
	// Captcha is a challenge that could not be solved; escalates to Auth.
	Captcha
	// Store is a persistence failure; fatal, never partially committed.
	Store
	// Cancelled is context cancellation.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Navigation:
		return "navigation"
	case Term:
		return "term"
	case ProductReview:
		return "product_review"
	case Auth:
		return "auth"
	case Captcha:
		return "captcha"
	case Store:
		return "store"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Retryable reports whether errors of this kind may be retried in place.
// Only timeouts are; everything else either escalates to its unit boundary
// or kills the run.
func (k Kind) Retryable() bool {
	return k == Timeout
}

// Error is a categorized pipeline error. Unit identifies what was being
// processed (a page URL, a search term, a product id / star rating).
type Error struct {
	Kind      Kind
	Unit      string
	Operation string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %v", e.Kind, e.Operation, e.Unit, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s", e.Kind, e.Operation, e.Unit)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates a categorized error.
func New(kind Kind, unit, operation string, cause error) *Error {
	return &Error{Kind: kind, Unit: unit, Operation: operation, Cause: cause}
}

// NewTimeout creates a timeout error.
func NewTimeout(unit, operation string, cause error) *Error {
	return New(Timeout, unit, operation, cause)
}

// NewAuth creates an authentication failure.
func NewAuth(unit, operation string, cause error) *Error {
	return New(Auth, unit, operation, cause)
}

// NewStore creates a persistence failure.
func NewStore(unit, operation string, cause error) *Error {
	return New(Store, unit, operation, cause)
}

// Categorize wraps an arbitrary error into the taxonomy, detecting timeouts
// and cancellation. Errors already carrying a Kind pass through untouched.
func Categorize(err error, unit, operation string) *Error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		return se
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return New(Cancelled, unit, operation, err)
	}

	if isTimeout(err) {
		return NewTimeout(unit, operation, err)
	}

	return New(Navigation, unit, operation, err)
}

// KindOf extracts the Kind from an error chain.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return Unknown
}

// IsTimeout reports whether the error is a transient timeout.
func IsTimeout(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == Timeout
	}
	return isTimeout(err)
}

// IsFatal reports whether the error must abort the whole run.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case Auth, Store:
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Playwright surfaces wait timeouts as plain errors with a "Timeout
	// ...ms exceeded" message, so fall back to message matching.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded")
}
