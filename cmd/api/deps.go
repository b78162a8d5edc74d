package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"

	"github.com/WessleyAI/wessley-health/engine/semantic"
	"github.com/WessleyAI/wessley-health/engine/store"
	"github.com/WessleyAI/wessley-health/engine/vindex"
	"github.com/WessleyAI/wessley-health/pkg/gemini"
	"github.com/WessleyAI/wessley-health/pkg/llm"
	"github.com/WessleyAI/wessley-health/pkg/ollama"
	"github.com/WessleyAI/wessley-health/pkg/resilience"
)

// buildStore assembles the index provider, the keyed records backend (keyed
// mode only) and the Store. The returned func releases connections.
func buildStore(ctx context.Context, cfg Config, logger *slog.Logger, onFallback func(string)) (*store.Store, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	mode, err := store.ParseMode(cfg.StoreMode)
	if err != nil {
		return nil, nil, err
	}

	var index vindex.Provider
	switch cfg.IndexBackend {
	case "", "file":
		index = vindex.NewFileProvider(cfg.IndexPath)
	case "qdrant":
		vs, err := semantic.New(cfg.QdrantURL, cfg.Collection, cfg.Dim)
		if err != nil {
			return nil, nil, fmt.Errorf("qdrant connect: %w", err)
		}
		closers = append(closers, func() { vs.Close() })
		index = vs
	default:
		return nil, nil, fmt.Errorf("unknown INDEX_BACKEND %q", cfg.IndexBackend)
	}

	var records store.Records
	if mode == store.PayloadKeyed {
		switch cfg.RecordsBackend {
		case "", "file":
			records = store.NewFileRecords(cfg.RecordsPath)
		case "neo4j":
			driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("neo4j driver: %w", err)
			}
			closers = append(closers, func() { driver.Close(context.Background()) })
			if err := driver.VerifyConnectivity(ctx); err != nil {
				logger.Warn("neo4j not reachable yet", "url", cfg.Neo4jURL, "err", err)
			}
			records = store.NewGraphRecords(driver, cfg.Neo4jDB)
		case "redis":
			client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			closers = append(closers, func() { client.Close() })
			records = store.NewRedisRecords(client, cfg.RedisPrefix, 0)
		default:
			closeAll()
			return nil, nil, fmt.Errorf("unknown RECORDS_BACKEND %q", cfg.RecordsBackend)
		}
	}

	st, err := store.New(index, store.Options{
		Mode:         mode,
		FallbackPath: cfg.FallbackPath,
		Records:      records,
		CacheTTL:     cfg.CacheTTL,
		Logger:       logger,
		OnFallback:   onFallback,
	})
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return st, closeAll, nil
}

// buildProvider picks the language model backend and guards it with the
// configured timeout, rate limit and circuit breaker.
func buildProvider(ctx context.Context, cfg Config, onBreaker func(from, to resilience.State)) (llm.Provider, error) {
	var base llm.Provider
	switch cfg.LLMProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
		c, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		base = c
	case "ollama":
		base = ollama.NewChatClient(cfg.OllamaURL, cfg.OllamaModel, &http.Client{})
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}

	breaker := resilience.DefaultBreakerOpts
	breaker.OnStateChange = onBreaker
	return llm.NewGuard(base, llm.GuardOpts{
		Timeout: cfg.LLMTimeout,
		Limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.LLMRate, Burst: cfg.LLMBurst}),
		Breaker: resilience.NewBreaker(breaker),
	}), nil
}

func connectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("health-api"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}
