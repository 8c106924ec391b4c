package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"quorum/internal/logger"
	"quorum/internal/provider"
)

// ErrInsufficientAnalysts means no analyst produced a usable report;
// the run cannot proceed to the debate.
var ErrInsufficientAnalysts = errors.New("insufficient_analyst_output")

// AnalystRunner executes the configured analyst roles concurrently.
// A failed or timed-out role degrades to an unsuccessful output; the
// stage only fails when every role failed.
type AnalystRunner struct {
	invoker     provider.Invoker
	prompts     *Prompts
	roles       []string
	maxParallel int
}

func NewAnalystRunner(invoker provider.Invoker, prompts *Prompts, roles []string, maxParallel int) *AnalystRunner {
	if maxParallel <= 0 {
		maxParallel = len(roles)
	}
	return &AnalystRunner{invoker: invoker, prompts: prompts, roles: roles, maxParallel: maxParallel}
}

// Run fans the roles out and collects their reports. marketContext is
// extra grounding (quote, indicator snapshot) appended to each prompt.
func (r *AnalystRunner) Run(ctx context.Context, symbol string, asOf time.Time, marketContext string) ([]AnalystOutput, error) {
	if len(r.roles) == 0 {
		return nil, fmt.Errorf("%w: no analyst roles configured", ErrInsufficientAnalysts)
	}
	outputs := make([]AnalystOutput, len(r.roles))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)
	for i, role := range r.roles {
		i, role := i, role
		g.Go(func() error {
			user := fmt.Sprintf("Stock: %s\nDate: %s\n\n%s", symbol, asOf.Format("2006-01-02"), marketContext)
			res, err := r.invoker.Invoke(gctx, role, r.prompts.For(role), user)
			out := AnalystOutput{Role: role, ProducedAt: time.Now()}
			if err != nil {
				logger.Warnf("analyst %s failed for %s: %v", role, symbol, err)
			} else if strings.TrimSpace(res.Text) != "" {
				out.Content = res.Text
				out.Success = true
			}
			mu.Lock()
			outputs[i] = out
			mu.Unlock()
			// Role failures degrade, they never abort the group.
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, o := range outputs {
		if o.Success {
			succeeded++
		}
	}
	if succeeded == 0 {
		return outputs, fmt.Errorf("%w: 0 of %d roles succeeded for %s", ErrInsufficientAnalysts, len(r.roles), symbol)
	}
	logger.Infof("analysis stage done for %s: %d/%d roles succeeded", symbol, succeeded, len(r.roles))
	return outputs, nil
}
