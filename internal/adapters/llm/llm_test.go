package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/manthysbr/reelforge/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "write", req.Messages[0].Content)
		assert.InDelta(t, 0.7, req.Temperature, 0.0001)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Hello narration."}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL+"/v1/", "sk-test", "", 0.7)
	out, err := p.Complete(context.Background(), "write")
	require.NoError(t, err)
	assert.Equal(t, "Hello narration.", out)
}

func TestOpenAIProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAIProvider(srv.URL, "k", "m", 0).Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestOllamaProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.1", req.Model)
		assert.False(t, req.Stream)
		_, _ = w.Write([]byte(`{"response":"From ollama.","done":true}`))
	}))
	defer srv.Close()

	out, err := NewOllamaProvider(srv.URL, "", 0.5).Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "From ollama.", out)
}

type fakeGenerator struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeGenerator) Complete(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.reply, f.err
}

func TestScriptWriter_Generate(t *testing.T) {
	gen := &fakeGenerator{reply: "**Script:** [Upbeat music]\n\"Coral reefs are in trouble.\"\n\nBut there is hope."}
	w := NewScriptWriter(gen, 150)

	script, err := w.Generate(context.Background(), "coral reefs", domain.StyleEducational, 30)
	require.NoError(t, err)
	assert.Equal(t, "Coral reefs are in trouble. But there is hope.", script)

	assert.Contains(t, gen.prompt, `"coral reefs"`)
	assert.Contains(t, gen.prompt, "about 75 words")
	assert.Contains(t, gen.prompt, "analogies")
}

func TestScriptWriter_Errors(t *testing.T) {
	_, err := NewScriptWriter(&fakeGenerator{err: errors.New("connection refused")}, 150).
		Generate(context.Background(), "t", domain.StyleNews, 60)
	assert.ErrorIs(t, err, domain.ErrGeneration)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = NewScriptWriter(&fakeGenerator{reply: "  [music]  "}, 150).
		Generate(context.Background(), "t", domain.StyleNews, 60)
	assert.ErrorIs(t, err, domain.ErrGeneration)
}

func TestBuildPrompt_UsesEveryStyle(t *testing.T) {
	seen := map[string]bool{}
	for _, style := range domain.Styles {
		prompt := BuildPrompt("topic", style, 60, 150)
		assert.Contains(t, prompt, "about 150 words")
		seen[prompt] = true
	}
	assert.Len(t, seen, len(domain.Styles))
}

func TestUnconfigured(t *testing.T) {
	_, err := Unconfigured{}.Generate(context.Background(), "t", domain.StyleNews, 60)
	assert.ErrorIs(t, err, domain.ErrGeneration)
	assert.Contains(t, err.Error(), "not configured")
}
