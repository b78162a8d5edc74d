// Package ingest builds explanation records offline: it validates a feature
// row, classifies it, explains the prediction, persists the record, and
// announces it over NATS.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/wessley-health/engine/domain"
	"github.com/WessleyAI/wessley-health/engine/explain"
	"github.com/WessleyAI/wessley-health/pkg/fn"
	"github.com/WessleyAI/wessley-health/pkg/natsutil"
)

const (
	// BuildSubject carries BuildRequests.
	BuildSubject = "health.explain"
	// DLQSubject receives requests that failed MaxRetries times.
	DLQSubject = "health.explain.dlq"
	// BuiltSubject announces persisted records.
	BuiltSubject = "health.explanation.built"
	// MaxRetries before sending to DLQ.
	MaxRetries = 3
)

// Classifier is the trained model.
type Classifier interface {
	Row(table map[string]float64) ([]float64, error)
	Predict(x []float64) (int, float64, error)
	PredictProba(rows [][]float64) ([][]float64, error)
	ClassName(k int) string
}

// Explainer turns an instance into an explanation record.
type Explainer interface {
	Build(ctx context.Context, userID string, instance []float64, predict explain.PredictFunc) (domain.ExplanationRecord, error)
}

// Inserter persists a record with its index entry.
type Inserter interface {
	Insert(ctx context.Context, entry domain.VectorEntry, rec domain.ExplanationRecord) error
}

// Deps holds the external dependencies for the build pipeline.
type Deps struct {
	Model     Classifier
	Explainer Explainer
	Store     Inserter
	// Publisher announces BuiltEvents; nil skips the announcement.
	Publisher natsutil.MsgPublisher
	// Retry applies to the persist stage and only retries upstream failures.
	Retry  fn.RetryOpts
	Logger *slog.Logger
}

// --- Pipeline Stages ---

// Validate checks the request shape.
var Validate fn.Stage[BuildRequest, BuildRequest] = func(_ context.Context, req BuildRequest) fn.Result[BuildRequest] {
	if strings.TrimSpace(req.UserID.String()) == "" {
		return fn.Err[BuildRequest](domain.NewValidationError("user_id", "", domain.ErrRequired))
	}
	if len(req.Features) == 0 {
		return fn.Err[BuildRequest](domain.NewValidationError("features", "", domain.ErrRequired))
	}
	return fn.Ok(req)
}

// NewPredict orders the features by the model's schema and classifies them.
func NewPredict(m Classifier) fn.Stage[BuildRequest, ScoredRow] {
	return func(_ context.Context, req BuildRequest) fn.Result[ScoredRow] {
		row, err := m.Row(req.Features)
		if err != nil {
			return fn.Err[ScoredRow](err)
		}
		class, p, err := m.Predict(row)
		if err != nil {
			return fn.Err[ScoredRow](fmt.Errorf("predict: %w", err))
		}
		return fn.Ok(ScoredRow{
			UserID:      req.UserID.String(),
			Row:         row,
			Class:       class,
			Label:       m.ClassName(class),
			Probability: p,
		})
	}
}

// NewExplain explains a scored row against the model's probabilities.
func NewExplain(e Explainer, m Classifier) fn.Stage[ScoredRow, domain.ExplanationRecord] {
	return func(ctx context.Context, s ScoredRow) fn.Result[domain.ExplanationRecord] {
		rec, err := e.Build(ctx, s.UserID, s.Row, m.PredictProba)
		if err != nil {
			return fn.Err[domain.ExplanationRecord](err)
		}
		rec.Prediction = s.Label
		rec.Probability = s.Probability
		return fn.Ok(rec)
	}
}

// NewPersist writes the record and its index entry, retrying upstream
// failures per opts.
func NewPersist(st Inserter, opts fn.RetryOpts) fn.Stage[domain.ExplanationRecord, domain.ExplanationRecord] {
	if opts.Retryable == nil {
		opts.Retryable = func(err error) bool { return domain.KindOf(err) == domain.KindUpstream }
	}
	insert := func(ctx context.Context, rec domain.ExplanationRecord) fn.Result[domain.ExplanationRecord] {
		if err := st.Insert(ctx, rec.Entry(), rec); err != nil {
			return fn.Err[domain.ExplanationRecord](fmt.Errorf("persist: %w", err))
		}
		return fn.Ok(rec)
	}
	return fn.RetryStage(opts, insert)
}

// NewAnnounce publishes a BuiltEvent. Publish failures are logged; the
// record is already durable.
func NewAnnounce(p natsutil.MsgPublisher, log *slog.Logger) fn.Stage[domain.ExplanationRecord, domain.ExplanationRecord] {
	return func(ctx context.Context, rec domain.ExplanationRecord) fn.Result[domain.ExplanationRecord] {
		if p == nil {
			return fn.Ok(rec)
		}
		ev := BuiltEvent{UserID: rec.UserID, Disease: rec.Disease}
		if err := natsutil.Publish(ctx, p, BuiltSubject, ev); err != nil {
			log.Warn("ingest: announce failed", "user_id", rec.UserID, "error", err)
		}
		return fn.Ok(rec)
	}
}

// logged wraps a stage with entry/exit logging and duration.
func logged[In, Out any](name string, log *slog.Logger, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return fn.TracedStage("ingest."+name, func(ctx context.Context, in In) fn.Result[Out] {
		start := time.Now()
		r := stage(ctx, in)
		log.Debug("stage.exit", "stage", name, "duration", time.Since(start), "ok", r.IsOk())
		return r
	})
}

// NewPipeline composes Validate → Predict → Explain → Persist → Announce.
func NewPipeline(deps Deps) fn.Stage[BuildRequest, domain.ExplanationRecord] {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	retry := deps.Retry
	if retry.MaxAttempts == 0 {
		retry = fn.DefaultRetry
	}

	scored := fn.Then(logged("validate", log, Validate), logged("predict", log, NewPredict(deps.Model)))
	explained := fn.Then(scored, logged("explain", log, NewExplain(deps.Explainer, deps.Model)))
	return fn.Then(explained, fn.Pipeline(
		logged("persist", log, NewPersist(deps.Store, retry)),
		logged("announce", log, NewAnnounce(deps.Publisher, log)),
	))
}

// Permanent reports errors that redelivery cannot fix.
func Permanent(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindData:
		return true
	}
	return false
}

// Handler adapts the pipeline to a NATS consumer handler.
func Handler(deps Deps) func(context.Context, BuildRequest) error {
	pipeline := NewPipeline(deps)
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return func(ctx context.Context, req BuildRequest) error {
		rec, err := pipeline(ctx, req).Unwrap()
		if err != nil {
			return err
		}
		log.Info("ingest: record built", "user_id", rec.UserID, "prediction", rec.Prediction, "features", len(rec.Features))
		return nil
	}
}

// StartConsumer subscribes to BuildSubject. Failed requests are re-queued
// up to MaxRetries times and then dead-lettered to DLQSubject; validation
// and data errors are dead-lettered at once.
func StartConsumer(nc *nats.Conn, deps Deps) (*nats.Subscription, error) {
	if deps.Publisher == nil {
		deps.Publisher = nc
	}
	return natsutil.Consume(nc, BuildSubject, natsutil.ConsumeOpts{
		MaxAttempts: MaxRetries,
		DLQSubject:  DLQSubject,
		Permanent:   Permanent,
		Logger:      deps.Logger,
	}, Handler(deps))
}
