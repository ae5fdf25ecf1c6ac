// Package google implements the Gemini generateContent wire protocol
// adapter: API key passed as a query parameter, streamGenerateContent
// variant selected by the stream flag.
package google

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/liekzejaws/clawd-throttle/internal/provider"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// Adapter implements provider.Adapter for Google Gemini.
type Adapter struct {
	client *http.Client
}

func New(client *http.Client) *Adapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Adapter{client: client}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type request struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

// geminiRole maps the neutral role to Gemini's two-party "user"/"model"
// vocabulary; assistant turns become "model".
func geminiRole(r types.Role) string {
	if r == types.RoleAssistant {
		return "model"
	}
	return "user"
}

func (a *Adapter) BuildRequest(ctx context.Context, dr provider.DispatchRequest, stream bool) (*http.Request, error) {
	baseURL := strings.TrimSuffix(dr.Binding.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	req := request{}
	for _, m := range dr.Parsed.Messages {
		req.Contents = append(req.Contents, content{
			Role:  geminiRole(m.Role),
			Parts: []part{{Text: types.ExtractText(m.Content)}},
		})
	}
	if dr.Parsed.System != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: dr.Parsed.System}}}
	}
	if dr.Parsed.Temperature != nil || dr.Parsed.MaxTokens > 0 {
		req.GenerationConfig = &generationConfig{
			Temperature:     dr.Parsed.Temperature,
			MaxOutputTokens: dr.Parsed.MaxTokens,
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	method := "generateContent"
	if stream {
		method = "streamGenerateContent"
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s",
		baseURL, url.PathEscape(dr.ModelID), method, url.QueryEscape(dr.Binding.APIKey))
	if stream {
		endpoint += "&alt=sse"
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type response struct {
	Candidates    []candidate   `json:"candidates"`
	UsageMetadata usageMetadata `json:"usageMetadata"`
	ModelVersion  string        `json:"modelVersion"`
}

func (a *Adapter) ParseResponse(body []byte) (*types.ProxyResponse, error) {
	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("unmarshal gemini response: %w", err)
	}

	var finishReason string
	if len(r.Candidates) > 0 {
		finishReason = r.Candidates[0].FinishReason
	}

	encoded, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}

	return &types.ProxyResponse{
		Content:      encoded,
		InputTokens:  r.UsageMetadata.PromptTokenCount,
		OutputTokens: r.UsageMetadata.CandidatesTokenCount,
		FinishReason: finishReason,
		ModelID:      r.ModelVersion,
		Provider:     string(provider.TagGoogle),
	}, nil
}
