// Package anthropic implements the Anthropic Messages wire protocol
// adapter, including raw-body passthrough so tools/tool_choice/thinking
// and tool-content blocks round-trip exactly when the ingress format was
// already Messages-style.
package anthropic

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

const (
	DefaultBaseURL    = "https://api.anthropic.com"
	DefaultAPIVersion = "2023-06-01"
	DefaultMaxTokens  = 4096
)

// Adapter implements provider.Adapter for the Anthropic family.
type Adapter struct {
	client *http.Client
}

// New constructs an Adapter using the given HTTP client (or http.DefaultClient if nil).
func New(client *http.Client) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{client: client}
}

func (a *Adapter) BuildRequest(ctx context.Context, dr provider.DispatchRequest, stream bool) (*http.Request, error) {
	baseURL := strings.TrimSuffix(dr.Binding.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	var body []byte
	var err error
	if dr.Parsed.IngressFormat == types.FormatAnthropic && len(dr.Parsed.RawBody) > 0 {
		body, err = passthroughBody(dr.Parsed.RawBody, dr.ModelID, stream)
	} else {
		body, err = buildFromNeutral(dr.Parsed, dr.ModelID, stream)
	}
	if err != nil {
		return nil, fmt.Errorf("build anthropic request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	header, value := provider.ResolveAuthHeader(dr.Binding.AuthType, dr.Binding.APIKey)
	httpReq.Header.Set(header, value)

	version := dr.Parsed.AnthropicVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	httpReq.Header.Set("anthropic-version", version)
	if dr.Parsed.AnthropicBeta != "" {
		httpReq.Header.Set("anthropic-beta", dr.Parsed.AnthropicBeta)
	}

	return httpReq, nil
}

// passthroughBody re-marshals the raw Messages-style body, overriding only
// model and stream so tools/tool_choice/thinking/metadata round-trip
// exactly, per spec.md §4.7.
func passthroughBody(raw []byte, modelID string, stream bool) ([]byte, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal raw body: %w", err)
	}
	fields["model"] = modelID
	fields["stream"] = stream
	return json.Marshal(fields)
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

func buildFromNeutral(p *types.ParsedRequest, modelID string, stream bool) ([]byte, error) {
	req := request{
		Model:       modelID,
		MaxTokens:   DefaultMaxTokens,
		System:      p.System,
		Temperature: p.Temperature,
		Stream:      stream,
	}
	if p.MaxTokens > 0 {
		req.MaxTokens = p.MaxTokens
	}
	for _, m := range p.Messages {
		req.Messages = append(req.Messages, message{Role: string(m.Role), Content: types.ExtractText(m.Content)})
	}
	return json.Marshal(req)
}

type response struct {
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (a *Adapter) ParseResponse(body []byte) (*types.ProxyResponse, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("unmarshal anthropic response: %w", err)
	}

	encoded, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}

	return &types.ProxyResponse{
		Content:      encoded,
		InputTokens:  r.Usage.InputTokens,
		OutputTokens: r.Usage.OutputTokens,
		FinishReason: r.StopReason,
		ModelID:      r.Model,
		Provider:     string(provider.TagAnthropic),
	}, nil
}
