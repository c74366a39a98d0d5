// Package llm holds the language-model connector used by the command
// interpreter and the response composer.
package llm

import (
	"context"
	"errors"
)

var (
	ErrAuth        = errors.New("llm: unauthorized")
	ErrQuota       = errors.New("llm: quota exceeded")
	ErrTimeout     = errors.New("llm: timeout")
	ErrUnavailable = errors.New("llm: unavailable")
)

// Request is one completion call. System carries the constrained
// instructions; Prompt carries the user-facing material.
type Request struct {
	System string
	Prompt string
	// JSON asks the backend for a JSON object response when it supports it.
	JSON bool
}

// Connector is the capability object handed to the interpreter and composer.
type Connector interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Degraded reports whether err belongs to the failure class that switches
// callers onto their deterministic fallback path.
func Degraded(err error) bool {
	return errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrQuota) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Cause names the failure class for logs.
func Cause(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrQuota):
		return "quota"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

// Disabled is the connector used when no API key is configured. Every call
// reports an auth failure so callers run degraded from the start.
type Disabled struct{}

func (Disabled) Complete(ctx context.Context, req Request) (string, error) {
	return "", ErrAuth
}
