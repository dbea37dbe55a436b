package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memory-engine/internal/config"
	"github.com/rcliao/memory-engine/internal/model"
)

func sampleRequest() Request {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Request{
		Scope: "project:abc",
		Entries: []model.Memory{
			{ID: "A", Category: model.CategoryWorkflow, Content: "run make test", UpdatedAt: now},
			{ID: "B", Category: model.CategoryWorkflow, Content: "run make test before commit", UpdatedAt: now},
		},
		MaxOutputChars: 4000,
	}
}

func TestParseSuggestion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		max     int
		want    *Suggestion
		wantErr bool
	}{
		{
			name:  "plain json",
			input: `{"merges":[{"ids":["A","B"],"content":"run make test before commit"}],"drop":["C"]}`,
			want: &Suggestion{
				Merges: []MergeGroup{{IDs: []string{"A", "B"}, Content: "run make test before commit"}},
				Drop:   []string{"C"},
			},
		},
		{
			name:  "fenced",
			input: "```json\n{\"merges\":[],\"drop\":[]}\n```",
			want:  &Suggestion{Merges: []MergeGroup{}, Drop: []string{}},
		},
		{name: "empty", input: "  ", wantErr: true},
		{name: "not json", input: "sure, here you go", wantErr: true},
		{name: "single id merge", input: `{"merges":[{"ids":["A"],"content":"x"}]}`, wantErr: true},
		{name: "blank merge content", input: `{"merges":[{"ids":["A","B"],"content":" "}]}`, wantErr: true},
		{name: "too long", input: `{"merges":[],"drop":[]}`, max: 5, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSuggestion(tt.input, tt.max)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidResponse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenAIRefine(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-test",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"merges\":[{\"ids\":[\"B\",\"A\"],\"content\":\"run make test before commit\"}],\"drop\":[]}"}
			}]
		}`))
	}))
	defer srv.Close()

	p, err := NewOpenAI("sk-test", WithBaseURL(srv.URL), WithModel("gpt-test"))
	require.NoError(t, err)
	assert.Equal(t, "openai:gpt-test", p.Name())

	s, err := p.Refine(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Len(t, s.Merges, 1)
	assert.Equal(t, []string{"B", "A"}, s.Merges[0].IDs)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "gpt-test", gotBody["model"])
	msgs, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestOpenAIRefineErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer srv.Close()
		p, err := NewOpenAI("sk-test", WithBaseURL(srv.URL))
		require.NoError(t, err)
		_, err = p.Refine(context.Background(), sampleRequest())
		assert.True(t, errors.Is(err, ErrUnavailable))
	})
	t.Run("no choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
		}))
		defer srv.Close()
		p, err := NewOpenAI("sk-test", WithBaseURL(srv.URL))
		require.NoError(t, err)
		_, err = p.Refine(context.Background(), sampleRequest())
		assert.True(t, errors.Is(err, ErrInvalidResponse))
	})
	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer srv.Close()
		defer close(release)
		p, err := NewOpenAI("sk-test", WithBaseURL(srv.URL))
		require.NoError(t, err)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = p.Refine(ctx, sampleRequest())
		assert.True(t, errors.Is(err, ErrUnavailable))
	})
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewOpenAI("")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestOllamaRefine(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"{\"merges\":[],\"drop\":[\"A\"]}"}}`))
	}))
	defer srv.Close()
	t.Setenv("OLLAMA_HOST", srv.URL)

	o := NewOllama("qwen")
	s, err := o.Refine(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, s.Drop)
	assert.Equal(t, "qwen", got.Model)
	assert.Equal(t, "json", got.Format)
	assert.False(t, got.Stream)
}

func TestNew(t *testing.T) {
	r, err := New(config.LLMCompactionConfig{Enabled: false, Provider: "openai"})
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = New(config.LLMCompactionConfig{Enabled: true, Provider: "ollama", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "ollama:m", r.Name())

	_, err = New(config.LLMCompactionConfig{Enabled: true, Provider: "bogus"})
	assert.Error(t, err)

	t.Setenv("MEMORY_ENGINE_LLM_PROVIDER", "none")
	r, err = NewFromEnv(config.LLMCompactionConfig{Enabled: true, Provider: "ollama"})
	require.NoError(t, err)
	assert.Nil(t, r)
}
