package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrInvalidState       = errors.New("invalid oauth state")
	ErrUnknownPlatform    = errors.New("unknown platform")
)

// Audit error codes.
const (
	CodeRateLimit     = "RATE_LIMIT"
	CodePrecondition  = "PRECONDITION"
	CodeRefreshFailed = "REFRESH_FAILED"
	CodePersistence   = "PERSISTENCE"
	CodeProvider      = "PROVIDER_ERROR"
)

// ConfigurationError reports missing OAuth client credentials.
type ConfigurationError struct {
	Platform Platform
	Missing  []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured: missing %v", e.Platform, e.Missing)
}

// TokenExchangeError is a callback-time failure to turn a code into tokens.
type TokenExchangeError struct {
	Platform Platform
	Err      error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("%s token exchange failed: %v", e.Platform, e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// RefreshError is a failed credential refresh. Soft failures let the sync continue with the old token.
type RefreshError struct {
	Platform Platform
	Soft     bool
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("%s token refresh failed: %v", e.Platform, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// RateLimitError means the provider answered HTTP 429.
type RateLimitError struct {
	Platform   Platform
	Op         string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limit hit during %s (retry after %s)", e.Platform, e.Op, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limit hit during %s", e.Platform, e.Op)
}

// PreconditionError is an ordering bug, such as a content sync before any profile exists.
type PreconditionError struct {
	ConnectionID uuid.UUID
	Reason       string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed for connection %s: %s", e.ConnectionID, e.Reason)
}

// PersistenceError is a failed storage write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsRateLimit(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// ErrorCode maps an error to its audit code. Returns "" for nil.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var (
		rle  *RateLimitError
		pre  *PreconditionError
		ref  *RefreshError
		pers *PersistenceError
	)
	switch {
	case errors.As(err, &rle):
		return CodeRateLimit
	case errors.As(err, &pre):
		return CodePrecondition
	case errors.As(err, &ref):
		return CodeRefreshFailed
	case errors.As(err, &pers):
		return CodePersistence
	default:
		return CodeProvider
	}
}
