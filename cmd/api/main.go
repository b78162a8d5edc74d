// Package main implements the health assistant API server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/WessleyAI/wessley-health/engine/ingest"
	"github.com/WessleyAI/wessley-health/engine/rag"
	"github.com/WessleyAI/wessley-health/engine/router"
	"github.com/WessleyAI/wessley-health/pkg/metrics"
	"github.com/WessleyAI/wessley-health/pkg/mid"
	"github.com/WessleyAI/wessley-health/pkg/natsutil"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	CORSOrigin string
	LogLevel   string
	LogFile    string
	MaxBody    int64

	// Store
	StoreMode      string
	IndexBackend   string // file | qdrant
	IndexPath      string
	FallbackPath   string
	RecordsBackend string // file | neo4j | redis
	RecordsPath    string
	CacheTTL       time.Duration

	QdrantURL  string
	Collection string
	Dim        int

	Neo4jURL  string
	Neo4jUser string
	Neo4jPass string
	Neo4jDB   string

	RedisAddr   string
	RedisPrefix string

	// LLM
	LLMProvider    string // gemini | ollama
	GeminiAPIKey   string
	GeminiModel    string
	OllamaURL      string
	OllamaModel    string
	LLMModel       string
	LLMTimeout     time.Duration
	LLMRate        float64
	LLMBurst       int
	LLMTemperature float64
	LLMMaxTokens   int

	NATSURL string
}

func loadConfig() Config {
	return Config{
		Port:       envOr("PORT", "8080"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		LogLevel:   envOr("LOG_LEVEL", "info"),
		LogFile:    os.Getenv("LOG_FILE"),
		MaxBody:    int64(envInt("MAX_BODY_BYTES", 1<<20)),

		StoreMode:      envOr("STORE_MODE", "fallback"),
		IndexBackend:   envOr("INDEX_BACKEND", "file"),
		IndexPath:      envOr("INDEX_PATH", "vector_db.index"),
		FallbackPath:   envOr("FALLBACK_PATH", "fallback.json"),
		RecordsBackend: envOr("RECORDS_BACKEND", "file"),
		RecordsPath:    envOr("RECORDS_PATH", "records.json"),
		CacheTTL:       envDuration("FALLBACK_CACHE_TTL", 30*time.Second),

		QdrantURL:  envOr("QDRANT_URL", "localhost:6334"),
		Collection: envOr("QDRANT_COLLECTION", "explanations"),
		Dim:        envInt("QDRANT_DIM", 5),

		Neo4jURL:  envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser: envOr("NEO4J_USER", "neo4j"),
		Neo4jPass: envOr("NEO4J_PASS", "password"),
		Neo4jDB:   os.Getenv("NEO4J_DATABASE"),

		RedisAddr:   envOr("REDIS_ADDR", "localhost:6379"),
		RedisPrefix: envOr("REDIS_PREFIX", "explanation:"),

		LLMProvider:    envOr("LLM_PROVIDER", "gemini"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    envOr("GEMINI_MODEL", "gemini-1.5-flash"),
		OllamaURL:      envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:    envOr("OLLAMA_MODEL", "llama3"),
		LLMModel:       os.Getenv("LLM_MODEL"),
		LLMTimeout:     envDuration("LLM_TIMEOUT", 60*time.Second),
		LLMRate:        envFloat("LLM_RATE", 0),
		LLMBurst:       envInt("LLM_BURST", 1),
		LLMTemperature: envFloat("LLM_TEMPERATURE", 0.3),
		LLMMaxTokens:   envInt("LLM_MAX_TOKENS", 1024),

		NATSURL: os.Getenv("NATS_URL"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

// newLogger writes JSON to stdout and, when file is set, to a rotating file.
func newLogger(level, file string) *slog.Logger {
	var w io.Writer = os.Stdout
	if file != "" {
		w = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		})
	}
	return newLoggerTo(w, level)
}

func newLoggerTo(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()

	logger := newLogger(cfg.LogLevel, cfg.LogFile)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

type invalidator interface{ Invalidate() }

// subscribeInvalidation drops the store's cached fallback whenever the
// ingest pipeline announces a new record.
func subscribeInvalidation(nc *nats.Conn, st invalidator, logger *slog.Logger) (*nats.Subscription, error) {
	sub, err := natsutil.Subscribe(nc, ingest.BuiltSubject, logger, func(_ context.Context, ev ingest.BuiltEvent) {
		st.Invalidate()
		logger.Info("fallback cache invalidated", "user_id", ev.UserID, "disease", ev.Disease)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", ingest.BuiltSubject, err)
	}
	return sub, nil
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	m := newAPIMetrics(reg)

	// --- Store ---
	st, closeStore, err := buildStore(ctx, cfg, logger, m.fallback)
	if err != nil {
		return err
	}
	defer closeStore()

	// --- Language model ---
	provider, err := buildProvider(ctx, cfg, m.breaker)
	if err != nil {
		return err
	}

	ragOpts := rag.DefaultOptions()
	ragOpts.Temperature = cfg.LLMTemperature
	ragOpts.MaxTokens = cfg.LLMMaxTokens
	ragOpts.Model = cfg.LLMModel

	svc := rag.New(
		router.New(router.NewLLMClassifier(provider), logger),
		st,
		provider,
		ragOpts,
		logger,
	).WithHooks(rag.Hooks{OnRoute: m.route, OnLLM: m.llm})

	// --- Cache invalidation on newly built records ---
	if cfg.NATSURL != "" {
		nc, err := connectNATS(cfg.NATSURL)
		if err != nil {
			return err
		}
		defer nc.Drain()
		if _, err := subscribeInvalidation(nc, st, logger); err != nil {
			return err
		}
	}

	// --- HTTP server ---
	handler := mid.Chain(newMux(svc, reg, m, logger),
		mid.RequestID(),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("health-api"),
		mid.MaxBody(cfg.MaxBody),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.LLMTimeout*2 + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "store_mode", st.Mode().String(), "llm", cfg.LLMProvider)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
