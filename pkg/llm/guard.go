package llm

import (
	"context"
	"time"

	"github.com/WessleyAI/wessley-health/pkg/resilience"
)

// GuardOpts configures Guard.
type GuardOpts struct {
	// Timeout bounds each call; 0 leaves the caller's deadline alone.
	Timeout time.Duration
	// Limiter throttles calls; nil disables throttling.
	Limiter *resilience.Limiter
	// Breaker rejects calls while the backend keeps failing; nil disables it.
	Breaker *resilience.Breaker
}

// Guard wraps a Provider with a per-call timeout, a blocking rate limit and
// a circuit breaker. It never retries.
type Guard struct {
	next Provider
	opts GuardOpts
}

var _ Provider = (*Guard)(nil)

// NewGuard wraps next.
func NewGuard(next Provider, opts GuardOpts) *Guard {
	return &Guard{next: next, opts: opts}
}

func (g *Guard) call(ctx context.Context, f func(context.Context) (string, error)) (string, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}
	if g.opts.Limiter != nil {
		if err := g.opts.Limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	if g.opts.Breaker == nil {
		return f(ctx)
	}
	var out string
	err := g.opts.Breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = f(ctx)
		return err
	})
	return out, err
}

// Chat implements Provider.
func (g *Guard) Chat(ctx context.Context, history []Message, opts ...Option) (string, error) {
	return g.call(ctx, func(ctx context.Context) (string, error) {
		return g.next.Chat(ctx, history, opts...)
	})
}

// Generate implements Provider.
func (g *Guard) Generate(ctx context.Context, prompt string, opts ...Option) (string, error) {
	return g.call(ctx, func(ctx context.Context) (string, error) {
		return g.next.Generate(ctx, prompt, opts...)
	})
}
