package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"quorum/internal/config"
)

// Registry resolves an agent role to its bound chat provider. Bindings
// come from ai.roles; an unknown role is a programming error surfaced
// at construction, not at call time.
type Registry struct {
	byRole map[string]ChatProvider
}

func NewRegistry(ai config.AIConfig) (*Registry, error) {
	var limiter *rate.Limiter
	if ai.RateLimitPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ai.RateLimitPerSec), 1)
	}
	clients := make(map[string]ChatProvider, len(ai.Models))
	for _, m := range ai.Models {
		clients[m.ID] = NewOpenAIChatClient(OpenAIOptions{
			ID:          m.ID,
			BaseURL:     m.APIURL,
			APIKey:      m.APIKey,
			Model:       m.Model,
			Temperature: m.Temperature,
			MaxTokens:   m.MaxTokens,
			Timeout:     time.Duration(m.TimeoutSeconds) * time.Second,
			MaxRetries:  m.MaxRetries,
			Limiter:     limiter,
		})
	}
	byRole := make(map[string]ChatProvider, len(ai.Roles))
	for role, id := range ai.Roles {
		client, ok := clients[id]
		if !ok {
			return nil, fmt.Errorf("role %s bound to unconfigured model %q", role, id)
		}
		byRole[role] = client
	}
	return &Registry{byRole: byRole}, nil
}

// ForRole returns the provider bound to role.
func (r *Registry) ForRole(role string) (ChatProvider, error) {
	p, ok := r.byRole[role]
	if !ok {
		return nil, fmt.Errorf("no provider bound for role %q", role)
	}
	return p, nil
}

// Invoke is the convenience path used by the agent stages.
func (r *Registry) Invoke(ctx context.Context, role, systemPrompt, userPrompt string) (Result, error) {
	p, err := r.ForRole(role)
	if err != nil {
		return Result{}, providerErr("%v", err)
	}
	return p.Call(ctx, systemPrompt, userPrompt)
}

// Invoker is the capability surface the agent stages depend on, so
// tests can script responses without HTTP.
type Invoker interface {
	Invoke(ctx context.Context, role, systemPrompt, userPrompt string) (Result, error)
}

var _ Invoker = (*Registry)(nil)
