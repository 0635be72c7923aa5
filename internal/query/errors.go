package query

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError covers bad input, allowlist violations, and malformed
// template fills. Surfaced to the caller verbatim, never retried.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Reasons, "; ")
}

func NewValidationError(reasons ...string) *ValidationError {
	return &ValidationError{Reasons: reasons}
}

// RateLimitedError is returned when the hourly quota is exhausted.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %d seconds", e.RetryAfterSeconds)
}

// CooldownActiveError is returned while a block-triggered cooldown holds.
type CooldownActiveError struct {
	RetryAfterSeconds int
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("cooldown active, retry after %d seconds", e.RetryAfterSeconds)
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
