// Package router classifies a user question into a routing Category.
package router

import (
	"context"
	"log/slog"
	"strings"

	"github.com/WessleyAI/wessley-health/engine/domain"
	"github.com/WessleyAI/wessley-health/pkg/llm"
)

// Classifier labels a question. The label is free text; Router normalizes it.
type Classifier interface {
	Classify(ctx context.Context, question string) (string, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, question string) (string, error)

func (f ClassifierFunc) Classify(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

const classifyPrompt = `Classify the following question into exactly one of these categories:
- ` + domain.LabelPersonal + `
- ` + domain.LabelGeneral + `

A personal health question asks about the user's own diagnosis, results, risk factors or health data.
Answer with the category text only, nothing else.

Question: `

// LLMClassifier asks a language model to pick one of the two labels.
type LLMClassifier struct {
	provider llm.Provider
	opts     []llm.Option
}

// NewLLMClassifier creates a classifier. Temperature defaults to 0.
func NewLLMClassifier(p llm.Provider, opts ...llm.Option) *LLMClassifier {
	return &LLMClassifier{provider: p, opts: append([]llm.Option{llm.WithTemperature(0)}, opts...)}
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, question string) (string, error) {
	out, err := c.provider.Generate(ctx, classifyPrompt+question, c.opts...)
	if err != nil {
		return "", err
	}
	return stripFence(out), nil
}

// stripFence removes a surrounding markdown code fence and quotes.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.Trim(strings.TrimSpace(s), `"'.`)
}

// Router maps questions onto categories.
type Router struct {
	classifier Classifier
	logger     *slog.Logger
}

// New creates a Router.
func New(c Classifier, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{classifier: c, logger: logger}
}

// Route classifies question. It returns the parsed category and the raw
// label. Classifier failures are returned as upstream errors, unretried.
func (r *Router) Route(ctx context.Context, question string) (domain.Category, string, error) {
	label, err := r.classifier.Classify(ctx, question)
	if err != nil {
		return domain.CategoryOther, "", domain.Upstream("router: classify", err)
	}
	cat := domain.ParseCategory(label)
	r.logger.Debug("question routed", "category", cat.String(), "label", label)
	return cat, label, nil
}
