package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/WessleyAI/wessley-health/pkg/resilience"
)

type stubProvider struct {
	calls int
	err   error
	delay time.Duration
	last  Options
}

func (s *stubProvider) Chat(ctx context.Context, history []Message, opts ...Option) (string, error) {
	s.calls++
	s.last = Apply(Options{}, opts...)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return "reply to " + history[len(history)-1].Content, nil
}

func (s *stubProvider) Generate(ctx context.Context, prompt string, opts ...Option) (string, error) {
	return s.Chat(ctx, []Message{{Role: "user", Content: prompt}}, opts...)
}

func TestGuardPassesThrough(t *testing.T) {
	p := &stubProvider{}
	g := NewGuard(p, GuardOpts{})
	out, err := g.Generate(context.Background(), "hi", WithTemperature(0.1), WithModel("m"))
	if err != nil || out != "reply to hi" {
		t.Fatalf("got %q, %v", out, err)
	}
	if p.last.Temperature != 0.1 || p.last.Model != "m" {
		t.Fatalf("options lost: %+v", p.last)
	}
}

func TestGuardTimeout(t *testing.T) {
	p := &stubProvider{delay: time.Second}
	g := NewGuard(p, GuardOpts{Timeout: 10 * time.Millisecond})
	_, err := g.Chat(context.Background(), []Message{{Role: "user", Content: "slow"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestGuardBreakerNoRetry(t *testing.T) {
	p := &stubProvider{err: errors.New("503")}
	g := NewGuard(p, GuardOpts{Breaker: resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 2, Cooldown: time.Hour})})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.Generate(ctx, "x"); !errors.Is(err, p.err) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if _, err := g.Generate(ctx, "x"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want circuit open", err)
	}
	if p.calls != 2 {
		t.Fatalf("provider called %d times, want 2", p.calls)
	}
}

func TestGuardLimiterHonoursContext(t *testing.T) {
	p := &stubProvider{}
	lim := resilience.NewLimiter(resilience.LimiterOpts{Rate: 0.001, Burst: 1})
	g := NewGuard(p, GuardOpts{Limiter: lim, Timeout: 20 * time.Millisecond})
	if _, err := g.Generate(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Generate(context.Background(), "b"); err == nil {
		t.Fatal("expected limiter wait to fail")
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d", p.calls)
	}
}

func TestApplyTracksExplicitTemperature(t *testing.T) {
	if o := Apply(Options{Temperature: 0.7}); o.TemperatureSet {
		t.Fatal("defaults alone should not mark temperature as set")
	}
	o := Apply(Options{Temperature: 0.7}, WithTemperature(0))
	if !o.TemperatureSet || o.Temperature != 0 {
		t.Fatalf("explicit zero lost: %+v", o)
	}
}
