package streaming

import (
	"strings"

	"github.com/goccy/go-json"
)

// openAISource parses the OpenAI-compatible `data: {...}` chunk dialect
// shared by OpenAI, DeepSeek, xAI, Moonshot, Mistral, and Ollama,
// terminated by `data: [DONE]`, grounded on the teacher's OpenAIParser.
type openAISource struct {
	inputTok  int
	outputTok int
}

type openAIStreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (s *openAISource) Parse(ev *rawEvent) (Event, bool) {
	data := strings.TrimSpace(ev.Data)
	if data == "" {
		return Event{}, false
	}
	if data == SSEDone {
		return Event{Done: true}, true
	}

	var chunk openAIStreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return Event{}, false
	}
	if chunk.Usage.PromptTokens > 0 {
		s.inputTok = chunk.Usage.PromptTokens
	}
	if chunk.Usage.CompletionTokens > 0 {
		s.outputTok = chunk.Usage.CompletionTokens
	}

	out := Event{
		MessageID:    chunk.ID,
		Model:        chunk.Model,
		InputTokens:  s.inputTok,
		OutputTokens: s.outputTok,
		HasUsage:     s.inputTok > 0 || s.outputTok > 0,
	}
	if len(chunk.Choices) > 0 {
		out.TextDelta = chunk.Choices[0].Delta.Content
		out.FinishReason = chunk.Choices[0].FinishReason
	}
	return out, true
}
