package ingress

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/liekzejaws/clawd-throttle/pkg/errors"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type messagesBody struct {
	Model       string          `json:"model"`
	Messages    []rawMessage    `json:"messages"`
	System      json.RawMessage `json:"system"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature"`
	Stream      bool            `json:"stream"`
}

type chatCompletionsBody struct {
	Model       string       `json:"model"`
	Messages    []rawMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature *float64     `json:"temperature"`
	Stream      bool         `json:"stream"`
}

// decodeMessages parses a POST /v1/messages body into a ParsedRequest,
// retaining the raw body for Anthropic-family passthrough dispatch.
func decodeMessages(body []byte) (*types.ParsedRequest, error) {
	var parsed messagesBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.InvalidRequest("malformed JSON body: " + err.Error())
	}
	if len(parsed.Messages) == 0 {
		return nil, errors.InvalidRequest("messages must not be empty")
	}

	req := &types.ParsedRequest{
		System:        types.ExtractText(parsed.System),
		MaxTokens:     parsed.MaxTokens,
		Temperature:   parsed.Temperature,
		Stream:        parsed.Stream,
		IngressFormat: types.FormatAnthropic,
		RawBody:       body,
	}

	for _, m := range parsed.Messages {
		role, err := neutralRole(m.Role)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, types.NeutralMessage{Role: role, Content: []byte(m.Content)})
		if hasToolContent(m.Content) {
			req.HasTools = true
		}
	}

	return req, nil
}

// decodeChatCompletions parses a POST /v1/chat/completions body, folding a
// leading "system" role message into ParsedRequest.System.
func decodeChatCompletions(body []byte) (*types.ParsedRequest, error) {
	var parsed chatCompletionsBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.InvalidRequest("malformed JSON body: " + err.Error())
	}
	if len(parsed.Messages) == 0 {
		return nil, errors.InvalidRequest("messages must not be empty")
	}

	req := &types.ParsedRequest{
		MaxTokens:     parsed.MaxTokens,
		Temperature:   parsed.Temperature,
		Stream:        parsed.Stream,
		IngressFormat: types.FormatOpenAI,
	}

	var system []string
	for _, m := range parsed.Messages {
		if m.Role == "system" {
			system = append(system, types.ExtractText(m.Content))
			continue
		}
		role, err := neutralRole(m.Role)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, types.NeutralMessage{Role: role, Content: []byte(m.Content)})
	}
	if len(system) > 0 {
		joined := system[0]
		for _, s := range system[1:] {
			joined += "\n" + s
		}
		req.System = joined
	}
	if len(req.Messages) == 0 {
		return nil, errors.InvalidRequest("messages must contain at least one user or assistant turn")
	}

	return req, nil
}

func neutralRole(role string) (types.Role, error) {
	switch role {
	case "user":
		return types.RoleUser, nil
	case "assistant":
		return types.RoleAssistant, nil
	default:
		return "", errors.InvalidRequest("unsupported message role: " + role)
	}
}

// hasToolContent reports whether a content-block array contains a tool_use
// or tool_result block, used to drive the tool-calling override.
func hasToolContent(raw json.RawMessage) bool {
	var blocks []struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return false
	}
	for _, b := range blocks {
		if b.Type == "tool_use" || b.Type == "tool_result" {
			return true
		}
	}
	return false
}

// extractControlHeaders copies the routing-control headers from r onto req.
func extractControlHeaders(r *http.Request, req *types.ParsedRequest) {
	req.ForceModelHeader = r.Header.Get("X-Throttle-Force-Model")
	req.SessionID = r.Header.Get("X-Session-ID")
	req.ClientID = r.Header.Get("X-Client-ID")
	req.ParentRequestID = r.Header.Get("X-Throttle-Parent-Request-Id")
	req.AnthropicVersion = r.Header.Get("anthropic-version")
	req.AnthropicBeta = r.Header.Get("anthropic-beta")

	var toolsProbe struct {
		Tools []json.RawMessage `json:"tools"`
	}
	if len(req.RawBody) > 0 && json.Unmarshal(req.RawBody, &toolsProbe) == nil && len(toolsProbe.Tools) > 0 {
		req.HasTools = true
	}
}
