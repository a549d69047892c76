// Package classifier adapts external language-model services to the single
// request/response shape the disambiguator needs.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var ErrNotConfigured = errors.New("classifier provider is not configured")

// Provider sends one prompt and returns the model's raw text answer.
type Provider interface {
	Name() string
	Model() string
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Prompt is one deterministic (temperature 0) completion request.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

// StatusError is a non-2xx answer from a provider endpoint.
type StatusError struct {
	Provider string
	Code     int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s endpoint status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s endpoint status %d: %s", e.Provider, e.Code, e.Message)
}

// IsRetryable reports whether a provider error is transient: timeouts,
// rate limiting and server-side failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConfigured) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		// Per-attempt timeouts surface as DeadlineExceeded; the caller checks
		// its own context separately.
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == 429 || statusErr.Code >= 500
	}
	if code, ok := anthropicStatus(err); ok {
		return code == 429 || code >= 500
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
