package streaming

import (
	"bytes"

	"github.com/goccy/go-json"
)

// googleSource parses Gemini's JSON-object-per-SSE-data-line chunks
// (candidates[].content.parts[].text, usageMetadata), grounded on the
// teacher's GeminiParser.
type googleSource struct {
	inputTok  int
	outputTok int
}

type geminiStreamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (s *googleSource) Parse(ev *rawEvent) (Event, bool) {
	data := bytes.TrimSpace([]byte(ev.Data))
	data = bytes.TrimPrefix(data, []byte("["))
	data = bytes.TrimSuffix(data, []byte("]"))
	data = bytes.TrimPrefix(data, []byte(","))
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Event{}, false
	}

	var chunk geminiStreamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return Event{}, false
	}
	if chunk.UsageMetadata.PromptTokenCount > 0 {
		s.inputTok = chunk.UsageMetadata.PromptTokenCount
	}
	if chunk.UsageMetadata.CandidatesTokenCount > 0 {
		s.outputTok = chunk.UsageMetadata.CandidatesTokenCount
	}
	if len(chunk.Candidates) == 0 {
		return Event{}, false
	}

	candidate := chunk.Candidates[0]
	var text string
	for _, part := range candidate.Content.Parts {
		text += part.Text
	}

	ev2 := Event{
		TextDelta:    text,
		Model:        chunk.ModelVersion,
		InputTokens:  s.inputTok,
		OutputTokens: s.outputTok,
		HasUsage:     s.inputTok > 0 || s.outputTok > 0,
	}
	if candidate.FinishReason != "" {
		ev2.FinishReason = mapGeminiFinishReason(candidate.FinishReason)
		ev2.Done = true
	}
	return ev2, true
}

func mapGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return reason
	}
}
