package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/wessley-health/engine/domain"
	"github.com/WessleyAI/wessley-health/engine/ingest"
	"github.com/WessleyAI/wessley-health/pkg/fn"
	"github.com/WessleyAI/wessley-health/pkg/metrics"
)

type summary struct {
	built, failed, skipped int
}

// readRequests parses one BuildRequest per line. Blank lines and lines
// starting with # are ignored; malformed lines are logged and skipped.
func readRequests(r io.Reader, log *slog.Logger) ([]ingest.BuildRequest, int, error) {
	var (
		reqs    []ingest.BuildRequest
		skipped int
		lineNo  int
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var req ingest.BuildRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			log.Warn("skipping malformed line", "line", lineNo, "error", err)
			skipped++
			continue
		}
		reqs = append(reqs, req)
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read input: %w", err)
	}
	return reqs, skipped, nil
}

// runBatch builds every request with up to workers concurrent pipelines.
func runBatch(ctx context.Context, r io.Reader, pipeline fn.Stage[ingest.BuildRequest, domain.ExplanationRecord], workers int, reg *metrics.Registry, log *slog.Logger) (summary, error) {
	reqs, skipped, err := readRequests(r, log)
	if err != nil {
		return summary{}, err
	}
	sum := summary{skipped: skipped}
	reg.Counter("health_ingest_skipped_total", "Malformed input lines").Add(int64(skipped))

	dur := reg.Histogram("health_ingest_build_seconds", "Per-record build time", nil)
	var timed fn.Stage[ingest.BuildRequest, domain.ExplanationRecord] = func(ctx context.Context, req ingest.BuildRequest) fn.Result[domain.ExplanationRecord] {
		defer dur.Since(time.Now())
		return pipeline(ctx, req)
	}

	results, err := fn.BatchStage(workers, timed)(ctx, reqs).Unwrap()
	if err != nil {
		return summary{}, err
	}
	for i, res := range results {
		rec, err := res.Unwrap()
		if err != nil {
			sum.failed++
			reg.Counter("health_ingest_records_total", "Build outcomes", "outcome", "error", "kind", domain.KindOf(err).String()).Inc()
			log.Error("build failed", "user_id", reqs[i].UserID.String(), "error", err)
			continue
		}
		sum.built++
		reg.Counter("health_ingest_records_total", "Build outcomes", "outcome", "ok", "kind", "").Inc()
		log.Info("record built", "user_id", rec.UserID, "prediction", rec.Prediction, "probability", rec.Probability)
	}
	return sum, nil
}
