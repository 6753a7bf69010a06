// Package apperr holds the error taxonomy shared by every service.
// Domain packages wrap these sentinels so the transport edge can map them with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrUpstreamUnavailable    = errors.New("upstream unavailable")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrReconciliationRequired = errors.New("reconciliation required")
)

// Validation returns an ErrValidation carrying a human readable reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Upstream wraps a failed peer call as ErrUpstreamUnavailable.
func Upstream(peer string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, peer, err)
}
