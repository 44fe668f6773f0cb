// Package breaker implements a keyed circuit breaker registry. This file
// defines the rejection error type and the error classification used to
// decide whether a failed call is worth retrying.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// UnavailableError is returned when a call is rejected because its breaker
// is not admitting traffic. It carries the breaker key and observed state so
// callers can translate it into a retry-after response.
type UnavailableError struct {
	Key   string
	State State
}

// Error implements the error interface.
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("circuit breaker %q is %s", e.Key, e.State)
}

// IsUnavailable reports whether err is (or wraps) an *UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Category buckets an error by its likely cause. Categories drive retry
// decisions: transient infrastructure categories are retried, everything
// else fails fast.
type Category string

// Error categories.
const (
	CategoryNetwork    Category = "network"
	CategoryTimeout    Category = "timeout"
	CategoryRateLimit  Category = "rate_limit"
	CategoryValidation Category = "validation"
	CategoryUnknown    Category = "unknown"
)

// Classify buckets err into a Category using error types first and message
// substrings as a fallback. Unknown errors are treated as non-transient.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}

	low := strings.ToLower(err.Error())
	switch {
	case strings.Contains(low, "timeout") || strings.Contains(low, "timed out") || strings.Contains(low, "deadline"):
		return CategoryTimeout
	case strings.Contains(low, "rate limit") || strings.Contains(low, "too many requests") || strings.Contains(low, "429"):
		return CategoryRateLimit
	case strings.Contains(low, "connection") || strings.Contains(low, "network") ||
		strings.Contains(low, "no such host") || strings.Contains(low, "unreachable") ||
		strings.Contains(low, "eof") || strings.Contains(low, "502") || strings.Contains(low, "503"):
		return CategoryNetwork
	case strings.Contains(low, "invalid") || strings.Contains(low, "malformed"):
		return CategoryValidation
	}
	return CategoryUnknown
}

// Retryable reports whether err belongs to a transient category. Breaker
// rejections are never retryable: retrying an open breaker only burns the
// retry budget.
func Retryable(err error) bool {
	if err == nil || IsUnavailable(err) {
		return false
	}
	switch Classify(err) {
	case CategoryNetwork, CategoryTimeout, CategoryRateLimit:
		return true
	}
	return false
}
