// Package openaicompat implements the shared chat-completions wire
// protocol used by OpenAI, DeepSeek, xAI, Moonshot, Mistral, and Ollama.
// These backends differ only in base URL and key header; the body shape
// and the `data: ...` / `[DONE]` SSE framing are identical.
package openaicompat

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/liekzejaws/clawd-throttle/internal/provider"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// defaultBaseURLs covers the backends that ship a well-known default
// endpoint; Ollama always requires an explicit baseUrl (local install).
var defaultBaseURLs = map[provider.Tag]string{
	provider.TagOpenAI:   "https://api.openai.com",
	provider.TagDeepSeek: "https://api.deepseek.com",
	provider.TagXAI:      "https://api.x.ai",
	provider.TagMoonshot: "https://api.moonshot.cn",
	provider.TagMistral:  "https://api.mistral.ai",
}

// Adapter implements provider.Adapter for one OpenAI-compatible tag.
type Adapter struct {
	tag    provider.Tag
	client *http.Client
}

func New(tag provider.Tag, client *http.Client) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{tag: tag, client: client}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Stream      bool      `json:"stream"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

func (a *Adapter) BuildRequest(ctx context.Context, dr provider.DispatchRequest, stream bool) (*http.Request, error) {
	baseURL := strings.TrimSuffix(dr.Binding.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURLs[a.tag]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("no base url configured for provider %q", a.tag)
	}

	req := request{
		Model:       dr.ModelID,
		Stream:      stream,
		MaxTokens:   dr.Parsed.MaxTokens,
		Temperature: dr.Parsed.Temperature,
	}
	if dr.Parsed.System != "" {
		req.Messages = append(req.Messages, message{Role: "system", Content: dr.Parsed.System})
	}
	for _, m := range dr.Parsed.Messages {
		req.Messages = append(req.Messages, message{Role: string(m.Role), Content: types.ExtractText(m.Content)})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", a.tag, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", a.tag, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if dr.Binding.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+dr.Binding.APIKey)
	}
	return httpReq, nil
}

type choice struct {
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type response struct {
	Choices []choice `json:"choices"`
	Model   string   `json:"model"`
	Usage   usage    `json:"usage"`
}

func (a *Adapter) ParseResponse(body []byte) (*types.ProxyResponse, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("unmarshal %s response: %w", a.tag, err)
	}

	var finishReason string
	if len(r.Choices) > 0 {
		finishReason = r.Choices[0].FinishReason
	}

	encoded, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}

	return &types.ProxyResponse{
		Content:      encoded,
		InputTokens:  r.Usage.PromptTokens,
		OutputTokens: r.Usage.CompletionTokens,
		FinishReason: finishReason,
		ModelID:      r.Model,
		Provider:     string(a.tag),
	}, nil
}
