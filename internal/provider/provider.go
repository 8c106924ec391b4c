package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ChatProvider is the reasoning-provider capability: given a system and
// user prompt it produces one completion. Implementations must honor
// ctx cancellation and deadlines.
type ChatProvider interface {
	ID() string
	Call(ctx context.Context, systemPrompt, userPrompt string) (Result, error)
}

// Result carries the completion plus call metadata.
type Result struct {
	Text        string
	Latency     time.Duration
	TokensUsed  int
	Model       string
}

var (
	// ErrProviderTimeout marks a call that exceeded its deadline. Retryable
	// at the stage level.
	ErrProviderTimeout = errors.New("provider timeout")
	// ErrProvider marks a non-retryable provider failure (auth, bad request,
	// malformed response).
	ErrProvider = errors.New("provider error")
)

func timeoutErr(role string, err error) error {
	return fmt.Errorf("%w: role=%s: %v", ErrProviderTimeout, role, err)
}

func providerErr(format string, v ...any) error {
	return fmt.Errorf("%w: %s", ErrProvider, fmt.Sprintf(format, v...))
}
