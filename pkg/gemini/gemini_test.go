package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/WessleyAI/wessley-health/pkg/llm"
)

type fakeGenerator struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	return f.resp, f.err
}

func reply(parts ...string) *genai.GenerateContentResponse {
	c := &genai.Content{Role: genai.RoleModel}
	for _, p := range parts {
		c.Parts = append(c.Parts, &genai.Part{Text: p})
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: c}}}
}

func TestChatMapsRoles(t *testing.T) {
	g := &fakeGenerator{resp: reply("Stay ", "active.")}
	c := NewWithGenerator(g, "")

	out, err := c.Chat(context.Background(), []llm.Message{
		{Role: "system", Content: "You are a health advisor."},
		{Role: "user", Content: "Tips?"},
		{Role: "assistant", Content: "Sleep well."},
		{Role: "user", Content: "More?"},
	}, llm.WithTemperature(0.3))
	require.NoError(t, err)
	assert.Equal(t, "Stay active.", out)

	assert.Equal(t, DefaultModel, g.model)
	require.Len(t, g.contents, 3)
	assert.Equal(t, genai.RoleUser, g.contents[0].Role)
	assert.Equal(t, genai.RoleModel, g.contents[1].Role)
	require.NotNil(t, g.config.SystemInstruction)
	assert.Equal(t, "You are a health advisor.", g.config.SystemInstruction.Parts[0].Text)
	require.NotNil(t, g.config.Temperature)
	assert.InDelta(t, 0.3, *g.config.Temperature, 1e-6)
}

func TestGenerate(t *testing.T) {
	g := &fakeGenerator{resp: reply("ok")}
	out, err := NewWithGenerator(g, "gemini-pro").Generate(context.Background(), "explain", llm.WithModel("gemini-2.0"))
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "gemini-2.0", g.model)
	assert.Nil(t, g.config.SystemInstruction)
	assert.Nil(t, g.config.Temperature)
	assert.Zero(t, g.config.MaxOutputTokens)
}

func TestGenerateForwardsZeroTemperatureAndMaxTokens(t *testing.T) {
	g := &fakeGenerator{resp: reply("yes")}
	_, err := NewWithGenerator(g, "gemini-pro").Generate(context.Background(), "q",
		llm.WithTemperature(0), llm.WithMaxTokens(16))
	require.NoError(t, err)
	require.NotNil(t, g.config.Temperature)
	assert.Equal(t, float32(0), *g.config.Temperature)
	assert.Equal(t, int32(16), g.config.MaxOutputTokens)
}

func TestGenerateErrors(t *testing.T) {
	g := &fakeGenerator{err: errors.New("quota exceeded")}
	_, err := NewWithGenerator(g, "").Generate(context.Background(), "x")
	assert.ErrorIs(t, err, g.err)

	g = &fakeGenerator{resp: &genai.GenerateContentResponse{}}
	_, err = NewWithGenerator(g, "").Generate(context.Background(), "x")
	assert.ErrorIs(t, err, errNoCandidates)
}
