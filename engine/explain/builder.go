// Package explain builds per-user explanation records from a local
// surrogate explanation of the classifier.
package explain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/wessley-health/engine/domain"
)

// TopK is how many contributions a record keeps.
const TopK = 5

// DefaultDisease names the condition the bundled model predicts.
const DefaultDisease = "heart disease"

// Builder turns explainer output into an ExplanationRecord.
type Builder struct {
	explainer Explainer
	names     map[string]string
	disease   string
	topK      int
	logger    *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithNames replaces the feature display-name dictionary.
func WithNames(names map[string]string) BuilderOption {
	return func(b *Builder) { b.names = names }
}

// WithDisease sets the condition written into records.
func WithDisease(d string) BuilderOption {
	return func(b *Builder) { b.disease = d }
}

// WithTopK overrides how many contributions are kept.
func WithTopK(k int) BuilderOption {
	return func(b *Builder) {
		if k > 0 {
			b.topK = k
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder creates a Builder around an explainer.
func NewBuilder(explainer Explainer, opts ...BuilderOption) *Builder {
	b := &Builder{
		explainer: explainer,
		names:     HeartDiseaseNames,
		disease:   DefaultDisease,
		topK:      TopK,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build explains instance and keeps the first TopK contributions in the
// explainer's order. A description without a numeric value fails the whole
// build.
func (b *Builder) Build(ctx context.Context, userID string, instance []float64, predict PredictFunc) (domain.ExplanationRecord, error) {
	contribs, err := b.explainer.Explain(ctx, instance, predict)
	if err != nil {
		return domain.ExplanationRecord{}, fmt.Errorf("explain: %w", err)
	}
	if len(contribs) > b.topK {
		contribs = contribs[:b.topK]
	}

	features := make([]domain.FeatureRecord, 0, len(contribs))
	for _, c := range contribs {
		name, value, err := CleanDescription(c.Description)
		if err != nil {
			return domain.ExplanationRecord{}, fmt.Errorf("explain: clean %q: %w", c.Description, err)
		}
		features = append(features, domain.FeatureRecord{
			Name:   b.DisplayName(name),
			Value:  value,
			Weight: c.Weight,
		})
	}

	b.logger.Debug("explanation built", "user_id", userID, "features", len(features))
	return domain.ExplanationRecord{
		UserID:   userID,
		Disease:  b.disease,
		Features: features,
	}, nil
}

// DisplayName maps a raw feature name, falling back to the name itself.
func (b *Builder) DisplayName(raw string) string {
	if n, ok := b.names[raw]; ok {
		return n
	}
	return raw
}
