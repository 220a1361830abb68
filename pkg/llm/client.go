// Package llm wraps the OpenAI chat completion API behind a small
// client interface. Every analysis feature degrades cleanly when no API
// key is configured: callers check Enabled or handle ErrDisabled.
package llm

import (
	"context"
	"errors"
)

// ErrDisabled is returned by the noop client. Callers treat it as
// "feature off", not as a failure worth surfacing to users.
var ErrDisabled = errors.New("llm disabled: no API key configured")

// Request is one chat completion call.
type Request struct {
	Model  string
	System string
	User   string
	// JSON forces a JSON-object response so replies parse strictly.
	JSON      bool
	MaxTokens int
}

// Client produces chat completions.
type Client interface {
	// Complete returns the assistant message text for the request.
	Complete(ctx context.Context, req Request) (string, error)
	// Enabled reports whether completions can succeed at all.
	Enabled() bool
}

// Noop is the disabled client used when no API key is configured.
type Noop struct{}

func (Noop) Complete(context.Context, Request) (string, error) { return "", ErrDisabled }
func (Noop) Enabled() bool                                     { return false }
