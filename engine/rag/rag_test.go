package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/wessley-health/engine/domain"
	"github.com/WessleyAI/wessley-health/engine/prompt"
	"github.com/WessleyAI/wessley-health/engine/router"
	"github.com/WessleyAI/wessley-health/engine/store"
	"github.com/WessleyAI/wessley-health/engine/vindex"
	"github.com/WessleyAI/wessley-health/pkg/llm"
)

// --- mocks ---

type mockRouter struct {
	cat   domain.Category
	err   error
	calls int
}

func (m *mockRouter) Route(_ context.Context, _ string) (domain.Category, string, error) {
	m.calls++
	return m.cat, m.cat.String(), m.err
}

type mockRetriever struct {
	rec   domain.ExplanationRecord
	err   error
	calls int
	query *domain.VectorEntry
}

func (m *mockRetriever) Retrieve(_ context.Context, q *domain.VectorEntry) (domain.ExplanationRecord, error) {
	m.calls++
	m.query = q
	return m.rec, m.err
}

type mockProvider struct {
	reply      string
	err        error
	chats      int
	generates  int
	lastPrompt string
	lastChat   []llm.Message
	lastOpts   llm.Options
}

func (m *mockProvider) Chat(_ context.Context, history []llm.Message, opts ...llm.Option) (string, error) {
	m.chats++
	m.lastChat = history
	m.lastOpts = llm.Apply(llm.Options{}, opts...)
	return m.reply, m.err
}

func (m *mockProvider) Generate(_ context.Context, p string, opts ...llm.Option) (string, error) {
	m.generates++
	m.lastPrompt = p
	m.lastOpts = llm.Apply(llm.Options{}, opts...)
	return m.reply, m.err
}

func userTurn(content string) []domain.Message {
	return []domain.Message{{Role: domain.RoleUser, Content: content}}
}

// --- tests ---

func TestHandle_HeartDiseaseEndToEnd(t *testing.T) {
	dir := t.TempDir()
	fallback := filepath.Join(dir, "example_data.json")
	payload := `{"disease":"heart disease","top_5_features":{"age":[63,0.12],"cholesterol":[240,-0.05]}}`
	if err := os.WriteFile(fallback, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := store.New(vindex.NewFileProvider(filepath.Join(dir, "faiss_index", "index.whfl")), store.Options{FallbackPath: fallback})
	if err != nil {
		t.Fatal(err)
	}
	classifier := router.ClassifierFunc(func(context.Context, string) (string, error) {
		return "personal health question", nil
	})
	p := &mockProvider{reply: "Age and cholesterol both play a role..."}
	svc := New(router.New(classifier, nil), st, p, DefaultOptions(), nil)

	env := svc.Handle(context.Background(), domain.ChatRequest{
		UserID:       "42",
		Conversation: userTurn("Why was I diagnosed with heart disease?"),
	})

	want := domain.Envelope{Status: domain.StatusSuccess, Message: "Age and cholesterol both play a role..."}
	if env != want {
		t.Fatalf("envelope = %+v, want %+v", env, want)
	}
	if p.generates != 1 || p.chats != 0 {
		t.Fatalf("generate=%d chat=%d", p.generates, p.chats)
	}
	if !strings.Contains(p.lastPrompt, "**Contributing Factors:**\n- age: value=63, impact=0.12\n") {
		t.Errorf("supporting line missing:\n%s", p.lastPrompt)
	}
	if !strings.Contains(p.lastPrompt, "**Factors Acting Against the Prediction:**\n- cholesterol: value=240, impact=-0.05\n") {
		t.Errorf("opposing line missing:\n%s", p.lastPrompt)
	}
}

func TestHandle_MissingFieldsMakeNoCalls(t *testing.T) {
	tests := []struct {
		name string
		req  domain.ChatRequest
		want string
	}{
		{"no user", domain.ChatRequest{Conversation: userTurn("hi")}, "user_id is required"},
		{"blank user", domain.ChatRequest{UserID: "  ", Conversation: userTurn("hi")}, "user_id is required"},
		{"no conversation", domain.ChatRequest{UserID: "42"}, "conversation is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ret, p := &mockRouter{}, &mockRetriever{}, &mockProvider{}
			env := New(r, ret, p, DefaultOptions(), nil).Handle(context.Background(), tt.req)
			if env.Status != domain.StatusError || env.Message != tt.want {
				t.Fatalf("envelope = %+v", env)
			}
			if r.calls+ret.calls+p.chats+p.generates != 0 {
				t.Fatal("collaborator called for invalid request")
			}
		})
	}
}

func TestAnswer_ValidationKind(t *testing.T) {
	_, err := New(&mockRouter{}, &mockRetriever{}, &mockProvider{}, DefaultOptions(), nil).
		Answer(context.Background(), domain.ChatRequest{Conversation: userTurn("hi")})
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("kind = %v", domain.KindOf(err))
	}
}

func TestHandle_GeneralPath(t *testing.T) {
	for _, cat := range []domain.Category{domain.CategoryGeneral, domain.CategoryOther} {
		t.Run(cat.String(), func(t *testing.T) {
			ret := &mockRetriever{}
			p := &mockProvider{reply: "Eat more fibre."}
			var routed []domain.Category
			svc := New(&mockRouter{cat: cat}, ret, p, Options{Temperature: 0.5, Model: "gemini-pro", SystemPreamble: prompt.SystemPreamble}, nil).
				WithHooks(Hooks{OnRoute: func(c domain.Category) { routed = append(routed, c) }})

			conv := []domain.Message{
				{Role: "user", Content: "Is bread healthy?"},
				{Role: "model", Content: "Whole grain bread is."},
				{Role: "user", Content: "What else?"},
			}
			env := svc.Handle(context.Background(), domain.ChatRequest{UserID: "7", Conversation: conv})
			if !env.OK() || env.Message != "Eat more fibre." {
				t.Fatalf("envelope = %+v", env)
			}
			if ret.calls != 0 || p.generates != 0 || p.chats != 1 {
				t.Fatalf("retrieve=%d generate=%d chat=%d", ret.calls, p.generates, p.chats)
			}
			if len(p.lastChat) != 4 || p.lastChat[0].Role != "system" || p.lastChat[0].Content != prompt.SystemPreamble {
				t.Fatalf("messages = %+v", p.lastChat)
			}
			if p.lastChat[2].Role != "assistant" || p.lastChat[3].Content != "What else?" {
				t.Fatalf("conversation not passed through: %+v", p.lastChat)
			}
			if conv[1].Role != "model" {
				t.Error("caller's conversation mutated")
			}
			if p.lastOpts.Temperature != 0.5 || p.lastOpts.Model != "gemini-pro" {
				t.Errorf("opts = %+v", p.lastOpts)
			}
			if len(routed) != 1 || routed[0] != cat {
				t.Errorf("routed = %v", routed)
			}
		})
	}
}

func TestHandle_PersonalQueriesByUser(t *testing.T) {
	ret := &mockRetriever{rec: domain.ExplanationRecord{Disease: "heart disease"}}
	p := &mockProvider{reply: "ok"}
	New(&mockRouter{cat: domain.CategoryPersonal}, ret, p, DefaultOptions(), nil).
		Handle(context.Background(), domain.ChatRequest{UserID: "42", Conversation: userTurn("why?")})
	if ret.query == nil || ret.query.Key != "42" || ret.query.Vector != nil {
		t.Fatalf("query = %+v", ret.query)
	}
	if !strings.Contains(p.lastPrompt, "None") {
		t.Error("empty feature groups should render None")
	}
}

func TestHandle_Failures(t *testing.T) {
	tests := []struct {
		name     string
		router   *mockRouter
		ret      *mockRetriever
		provider *mockProvider
		kind     domain.Kind
		contains string
	}{
		{
			name:     "classifier down",
			router:   &mockRouter{err: domain.Upstream("router: classify", errors.New("quota exceeded"))},
			ret:      &mockRetriever{},
			provider: &mockProvider{},
			kind:     domain.KindUpstream,
			contains: "quota exceeded",
		},
		{
			name:     "no fallback file",
			router:   &mockRouter{cat: domain.CategoryPersonal},
			ret:      &mockRetriever{err: domain.ErrNotFound},
			provider: &mockProvider{},
			kind:     domain.KindNotFound,
			contains: "rag: retrieve",
		},
		{
			name:     "model error",
			router:   &mockRouter{cat: domain.CategoryGeneral},
			ret:      &mockRetriever{},
			provider: &mockProvider{err: errors.New("503 unavailable")},
			kind:     domain.KindUpstream,
			contains: "503 unavailable",
		},
		{
			name:     "empty reply",
			router:   &mockRouter{cat: domain.CategoryGeneral},
			ret:      &mockRetriever{},
			provider: &mockProvider{reply: "   "},
			kind:     domain.KindUpstream,
			contains: "no response from the model",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var llmErrs []error
			svc := New(tt.router, tt.ret, tt.provider, DefaultOptions(), nil).
				WithHooks(Hooks{OnLLM: func(_ time.Duration, err error) { llmErrs = append(llmErrs, err) }})
			req := domain.ChatRequest{UserID: "42", Conversation: userTurn("q")}

			_, err := svc.Answer(context.Background(), req)
			if got := domain.KindOf(err); got != tt.kind {
				t.Fatalf("kind = %v, want %v (err=%v)", got, tt.kind, err)
			}
			env := svc.Handle(context.Background(), req)
			if env.Status != domain.StatusError || !strings.Contains(env.Message, tt.contains) {
				t.Fatalf("envelope = %+v", env)
			}
			if tt.provider.chats+tt.provider.generates > 2 {
				t.Fatal("model called more than once per request")
			}
			if tt.provider.chats+tt.provider.generates > 0 && len(llmErrs) == 0 {
				t.Fatal("llm hook not called")
			}
		})
	}
}
