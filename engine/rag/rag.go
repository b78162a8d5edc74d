// Package rag orchestrates one health conversation turn: it validates the
// request, routes the last question, resolves either the user's explanation
// record or the general conversation into a prompt, and calls the language
// model once.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/wessley-health/engine/domain"
	"github.com/WessleyAI/wessley-health/engine/prompt"
	"github.com/WessleyAI/wessley-health/pkg/fn"
	"github.com/WessleyAI/wessley-health/pkg/llm"
)

// Router classifies the question.
type Router interface {
	Route(ctx context.Context, question string) (domain.Category, string, error)
}

// Retriever resolves the explanation record for a personal question.
type Retriever interface {
	Retrieve(ctx context.Context, query *domain.VectorEntry) (domain.ExplanationRecord, error)
}

// Options configures the pipeline.
type Options struct {
	Temperature    float64
	MaxTokens      int
	Model          string
	SystemPreamble string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Temperature:    0.3,
		MaxTokens:      1024,
		SystemPreamble: prompt.SystemPreamble,
	}
}

// Hooks receive pipeline events. Nil hooks are skipped.
type Hooks struct {
	OnRoute func(domain.Category)
	OnLLM   func(elapsed time.Duration, err error)
}

// Service is the conversation orchestrator.
type Service struct {
	router    Router
	retriever Retriever
	provider  llm.Provider
	opts      Options
	hooks     Hooks
	logger    *slog.Logger

	pipeline fn.Stage[domain.ChatRequest, string]
}

// turn carries one request through the stages.
type turn struct {
	req      domain.ChatRequest
	question string
	category domain.Category
	prompt   string
	messages []llm.Message
}

// New creates a Service.
func New(router Router, retriever Retriever, provider llm.Provider, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		router:    router,
		retriever: retriever,
		provider:  provider,
		opts:      opts,
		logger:    logger,
	}
	s.pipeline = fn.Then(
		fn.Then(
			fn.TracedStage("rag.validate", s.validate),
			fn.Pipeline(
				fn.TracedStage("rag.route", s.route),
				fn.TracedStage("rag.resolve", s.resolve),
			),
		),
		fn.TracedStage("rag.invoke", s.invoke),
	)
	return s
}

// WithHooks sets event hooks and returns s.
func (s *Service) WithHooks(h Hooks) *Service {
	s.hooks = h
	return s
}

// Answer runs the pipeline and returns the generated text or a typed error.
// Validation failures are returned before any collaborator is called.
func (s *Service) Answer(ctx context.Context, req domain.ChatRequest) (string, error) {
	return s.pipeline(ctx, req).Unwrap()
}

// Handle runs the pipeline and folds the outcome into an Envelope.
func (s *Service) Handle(ctx context.Context, req domain.ChatRequest) domain.Envelope {
	text, err := s.Answer(ctx, req)
	if err != nil {
		s.logger.Warn("rag: request failed", "user_id", req.UserID.String(), "kind", domain.KindOf(err).String(), "err", err)
		return domain.Failure(err)
	}
	return domain.Success(text)
}

func (s *Service) validate(_ context.Context, req domain.ChatRequest) fn.Result[turn] {
	// Roles are normalized in place; copy so the caller's slice is untouched.
	req.Conversation = append([]domain.Message(nil), req.Conversation...)
	if err := domain.ValidateChatRequest(&req); err != nil {
		return fn.Err[turn](err)
	}
	return fn.Ok(turn{req: req, question: req.LastMessage()})
}

func (s *Service) route(ctx context.Context, t turn) fn.Result[turn] {
	cat, _, err := s.router.Route(ctx, t.question)
	if err != nil {
		return fn.Err[turn](err)
	}
	t.category = cat
	if s.hooks.OnRoute != nil {
		s.hooks.OnRoute(cat)
	}
	return fn.Ok(t)
}

func (s *Service) resolve(ctx context.Context, t turn) fn.Result[turn] {
	if !t.category.Personal() {
		for _, m := range prompt.General(t.req.Conversation, s.opts.SystemPreamble) {
			t.messages = append(t.messages, llm.Message{Role: string(m.Role), Content: m.Content})
		}
		return fn.Ok(t)
	}
	rec, err := s.retriever.Retrieve(ctx, &domain.VectorEntry{Key: t.req.UserID.String()})
	if err != nil {
		return fn.Err[turn](fmt.Errorf("rag: retrieve: %w", err))
	}
	s.logger.Info("rag: explanation resolved", "user_id", t.req.UserID.String(), "record_user", rec.UserID, "features", len(rec.Features))
	t.prompt = prompt.Explanation(rec)
	return fn.Ok(t)
}

func (s *Service) invoke(ctx context.Context, t turn) fn.Result[string] {
	opts := []llm.Option{llm.WithTemperature(s.opts.Temperature)}
	if s.opts.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(s.opts.MaxTokens))
	}
	if s.opts.Model != "" {
		opts = append(opts, llm.WithModel(s.opts.Model))
	}

	start := time.Now()
	var text string
	var err error
	if t.messages != nil {
		text, err = s.provider.Chat(ctx, t.messages, opts...)
	} else {
		text, err = s.provider.Generate(ctx, t.prompt, opts...)
	}
	if err == nil && strings.TrimSpace(text) == "" {
		err = domain.ErrEmptyResponse
	}
	if s.hooks.OnLLM != nil {
		s.hooks.OnLLM(time.Since(start), err)
	}
	if err != nil {
		return fn.Err[string](domain.Upstream("rag: generate", err))
	}
	s.logger.Info("rag: answered", "category", t.category.String(), "reply_len", len(text))
	return fn.Ok(text)
}
