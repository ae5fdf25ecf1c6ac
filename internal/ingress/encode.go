package ingress

import (
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/liekzejaws/clawd-throttle/internal/provider"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// Non-streaming response encoding has to contend with three distinct
// upstream JSON dialects (ProxyResponse.Content is the provider-native
// re-serialization) but only two client dialects. Rather than special-case
// same-family passthrough, every response is decoded to plain text once and
// re-rendered in the client's dialect, keeping exactly one code path.

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicNativeResponse struct {
	Content []anthropicContentBlock `json:"content"`
}

type openAINativeChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type openAINativeResponse struct {
	Choices []openAINativeChoice `json:"choices"`
}

type googleNativePart struct {
	Text string `json:"text"`
}

type googleNativeResponse struct {
	Candidates []struct {
		Content struct {
			Parts []googleNativePart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// extractResponseText pulls plain text out of resp.Content, whose shape
// depends on which provider family produced it.
func extractResponseText(resp *types.ProxyResponse) string {
	switch {
	case provider.Tag(resp.Provider).IsAnthropicFamily():
		var r anthropicNativeResponse
		if json.Unmarshal(resp.Content, &r) == nil {
			var text string
			for _, b := range r.Content {
				if b.Type == "text" || b.Type == "" {
					text += b.Text
				}
			}
			return text
		}
	case resp.Provider == string(provider.TagGoogle):
		var r googleNativeResponse
		if json.Unmarshal(resp.Content, &r) == nil && len(r.Candidates) > 0 {
			var text string
			for _, p := range r.Candidates[0].Content.Parts {
				text += p.Text
			}
			return text
		}
	default:
		var r openAINativeResponse
		if json.Unmarshal(resp.Content, &r) == nil && len(r.Choices) > 0 {
			return r.Choices[0].Message.Content
		}
	}
	return ""
}

type anthropicOutBody struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func encodeAnthropicResponse(resp *types.ProxyResponse, requestID string) []byte {
	out := anthropicOutBody{
		ID:         "msg_" + uuid.New().String(),
		Type:       "message",
		Role:       string(types.RoleAssistant),
		Model:      resp.ModelID,
		Content:    []anthropicContentBlock{{Type: "text", Text: extractResponseText(resp)}},
		StopReason: resp.FinishReason,
	}
	out.Usage.InputTokens = resp.InputTokens
	out.Usage.OutputTokens = resp.OutputTokens
	encoded, _ := json.Marshal(out)
	return encoded
}

type openAIOutBody struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int    `json:"index"`
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func encodeOpenAIResponse(resp *types.ProxyResponse, requestID string) []byte {
	out := openAIOutBody{
		ID:     "chatcmpl_" + uuid.New().String(),
		Object: "chat.completion",
		Model:  resp.ModelID,
	}
	out.Choices = make([]struct {
		Index        int    `json:"index"`
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	}, 1)
	out.Choices[0].FinishReason = resp.FinishReason
	out.Choices[0].Message.Role = string(types.RoleAssistant)
	out.Choices[0].Message.Content = extractResponseText(resp)
	out.Usage.PromptTokens = resp.InputTokens
	out.Usage.CompletionTokens = resp.OutputTokens
	encoded, _ := json.Marshal(out)
	return encoded
}

// encodeResponse renders resp into the client's ingress dialect.
func encodeResponse(format types.IngressFormat, resp *types.ProxyResponse, requestID string) []byte {
	if format == types.FormatAnthropic {
		return encodeAnthropicResponse(resp, requestID)
	}
	return encodeOpenAIResponse(resp, requestID)
}
