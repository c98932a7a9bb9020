package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a provider failure for retry purposes.
type Kind int

const (
	// Transient failures (timeouts, rate limits, 5xx) are safe to retry.
	Transient Kind = iota + 1
	// Permanent failures (auth, malformed request) must not be retried.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// Error wraps a vendor failure with its provider, HTTP status (when known),
// and retry classification.
type Error struct {
	Provider ID
	Kind     Kind
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Err.Error())
	}
	return fmt.Sprintf("%s: provider error (status=%d)", e.Provider, e.Status)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// transientErr and permanentErr build classified errors for client code.
func transientErr(p ID, status int, err error) *Error {
	return &Error{Provider: p, Kind: Transient, Status: status, Err: err}
}

func permanentErr(p ID, status int, err error) *Error {
	return &Error{Provider: p, Kind: Permanent, Status: status, Err: err}
}

// classifyStatus maps an HTTP status to a retry classification.
// 408, 429 and 5xx are transient; every other error status is permanent.
func classifyStatus(p ID, status int, err error) *Error {
	if status == 408 || status == 429 || (status >= 500 && status <= 599) {
		return transientErr(p, status, err)
	}
	return permanentErr(p, status, err)
}

// IsTransient reports whether an error is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.Kind == Transient
	}
	return false
}

// IsPermanent reports whether an error is a classified permanent failure.
func IsPermanent(err error) bool {
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.Kind == Permanent
	}
	return false
}
