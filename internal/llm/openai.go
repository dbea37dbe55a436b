package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/openai/openai-go"
)

// DefaultOpenAIBaseURL is the default OpenAI API base URL.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAI refines through any OpenAI-compatible chat completions API.
type OpenAI struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
}

// Option configures an OpenAI refiner.
type Option func(*OpenAI)

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(p *OpenAI) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL points the refiner at another OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(p *OpenAI) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *OpenAI) {
		p.httpClient = c
	}
}

// NewOpenAI creates an OpenAI refiner. An empty apiKey falls back to
// OPENAI_API_KEY; OPENAI_BASE_URL overrides the default base URL.
func NewOpenAI(apiKey string, opts ...Option) (*OpenAI, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required (set OPENAI_API_KEY)", ErrUnavailable)
	}

	p := &OpenAI{
		httpClient: &http.Client{},
		apiKey:     apiKey,
		baseURL:    DefaultOpenAIBaseURL,
		model:      "gpt-5-mini",
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.baseURL == DefaultOpenAIBaseURL {
		if env := os.Getenv("OPENAI_BASE_URL"); env != "" {
			p.baseURL = env
		}
	}
	return p, nil
}

func (p *OpenAI) Name() string { return "openai:" + p.model }

func (p *OpenAI) Refine(ctx context.Context, req Request) (*Suggestion, error) {
	prompt, err := userPrompt(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]any{
		"model": p.model,
		"messages": []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		"response_format": map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: openai request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: openai error %d: %s", ErrUnavailable, resp.StatusCode, string(b))
	}

	var completion openai.ChatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, fmt.Errorf("%w: decode completion: %v", ErrInvalidResponse, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrInvalidResponse)
	}
	return ParseSuggestion(completion.Choices[0].Message.Content, req.MaxOutputChars)
}
