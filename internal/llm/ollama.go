package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
)

// Ollama refines through a local Ollama instance.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
}

// NewOllama creates a refiner using Ollama's chat API at OLLAMA_HOST
// (default http://localhost:11434).
func NewOllama(model string) *Ollama {
	baseURL := os.Getenv("OLLAMA_HOST")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &Ollama{baseURL: baseURL, model: model, client: &http.Client{}}
}

func (o *Ollama) Name() string { return "ollama:" + o.model }

func (o *Ollama) Refine(ctx context.Context, req Request) (*Suggestion, error) {
	prompt, err := userPrompt(req)
	if err != nil {
		return nil, err
	}
	body, _ := json.Marshal(ollamaChatRequest{
		Model: o.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Format: "json",
	})
	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama request failed: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: ollama error %d: %s", ErrUnavailable, resp.StatusCode, string(b))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode ollama reply: %v", ErrInvalidResponse, err)
	}
	return ParseSuggestion(result.Message.Content, req.MaxOutputChars)
}
