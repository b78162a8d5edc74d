package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/WessleyAI/wessley-health/engine/domain"
	"github.com/WessleyAI/wessley-health/pkg/metrics"
	"github.com/WessleyAI/wessley-health/pkg/mid"
	"github.com/WessleyAI/wessley-health/pkg/resilience"
)

// answerer is the part of rag.Service the handlers need.
type answerer interface {
	Answer(ctx context.Context, req domain.ChatRequest) (string, error)
}

// QueryResponse is the 200 body for POST /api/query.
type QueryResponse struct {
	Message  string `json:"message"`
	Response string `json:"response"`
}

// apiMetrics names the series the server exports.
type apiMetrics struct {
	reg *metrics.Registry
}

func newAPIMetrics(reg *metrics.Registry) *apiMetrics {
	m := &apiMetrics{reg: reg}
	m.breakerGauge().Set(int64(resilience.StateClosed))
	return m
}

func (m *apiMetrics) route(c domain.Category) {
	m.reg.Counter("health_questions_total", "Questions by routed category", "category", c.String()).Inc()
}

func (m *apiMetrics) llm(elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.reg.Histogram("health_llm_seconds", "Language model call latency", nil, "outcome", outcome).Observe(elapsed.Seconds())
}

func (m *apiMetrics) fallback(reason string) {
	m.reg.Counter("health_fallback_reads_total", "Retrievals answered from the fallback file", "reason", reason).Inc()
}

func (m *apiMetrics) breakerGauge() *metrics.Gauge {
	return m.reg.Gauge("health_llm_breaker_state", "0 closed, 1 open, 2 half-open")
}

func (m *apiMetrics) breaker(_, to resilience.State) { m.breakerGauge().Set(int64(to)) }

func (m *apiMetrics) response(code int) {
	m.reg.Counter("health_query_responses_total", "Query responses by status code", "code", strconv.Itoa(code)).Inc()
}

func newMux(svc answerer, reg *metrics.Registry, m *apiMetrics, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/query", handleQuery(svc, m, logger))
	mux.Handle("GET /metrics", reg.Handler())
	return mux
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleQuery answers one conversation turn. Validation failures are 400,
// everything else that goes wrong is 500.
func handleQuery(svc answerer, m *apiMetrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fail := func(code int, msg string) {
			m.response(code)
			mid.WriteError(w, code, msg)
		}

		var req domain.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			fail(http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		text, err := svc.Answer(r.Context(), req)
		if err != nil {
			if domain.KindOf(err) == domain.KindValidation {
				fail(http.StatusBadRequest, err.Error())
				return
			}
			logger.Error("query failed",
				"request_id", mid.RequestIDFrom(r.Context()),
				"user_id", req.UserID.String(),
				"kind", domain.KindOf(err).String(),
				"err", err,
			)
			fail(http.StatusInternalServerError, "An error occurred: "+err.Error())
			return
		}

		m.response(http.StatusOK)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(QueryResponse{Message: "Successful", Response: text})
	}
}
