package streaming

import "github.com/goccy/go-json"

// anthropicSource parses Anthropic's typed SSE events: message_start,
// content_block_delta, message_delta, message_stop, ping, grounded on the
// teacher's AnthropicParser.
type anthropicSource struct {
	messageID string
	model     string
	inputTok  int
	outputTok int
}

func (s *anthropicSource) Parse(ev *rawEvent) (Event, bool) {
	if ev.Data == "" {
		return Event{}, false
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
		return Event{}, false
	}

	eventType, _ := payload["type"].(string)
	switch eventType {
	case "message_start":
		return s.handleMessageStart(payload)
	case "content_block_delta":
		return s.handleContentDelta(payload)
	case "message_delta":
		return s.handleMessageDelta(payload)
	case "message_stop":
		return Event{MessageID: s.messageID, Model: s.model, Done: true}, true
	default: // content_block_start, content_block_stop, ping, and anything unrecognized
		return Event{}, false
	}
}

func (s *anthropicSource) handleMessageStart(payload map[string]any) (Event, bool) {
	msg, ok := payload["message"].(map[string]any)
	if !ok {
		return Event{}, false
	}
	if id, ok := msg["id"].(string); ok {
		s.messageID = id
	}
	if model, ok := msg["model"].(string); ok {
		s.model = model
	}
	if usage, ok := msg["usage"].(map[string]any); ok {
		if v, ok := usage["input_tokens"].(float64); ok {
			s.inputTok = int(v)
		}
	}
	return Event{MessageID: s.messageID, Model: s.model, Start: true, InputTokens: s.inputTok, OutputTokens: s.outputTok, HasUsage: s.inputTok > 0 || s.outputTok > 0}, true
}

func (s *anthropicSource) handleContentDelta(payload map[string]any) (Event, bool) {
	delta, ok := payload["delta"].(map[string]any)
	if !ok || delta["type"] != "text_delta" {
		return Event{}, false
	}
	text, ok := delta["text"].(string)
	if !ok {
		return Event{}, false
	}
	return Event{MessageID: s.messageID, Model: s.model, TextDelta: text}, true
}

func (s *anthropicSource) handleMessageDelta(payload map[string]any) (Event, bool) {
	ev := Event{MessageID: s.messageID, Model: s.model}
	if delta, ok := payload["delta"].(map[string]any); ok {
		if reason, ok := delta["stop_reason"].(string); ok && reason != "" {
			ev.FinishReason = mapAnthropicStopReason(reason)
		}
	}
	if usage, ok := payload["usage"].(map[string]any); ok {
		if v, ok := usage["output_tokens"].(float64); ok {
			s.outputTok = int(v)
		}
		if v, ok := usage["input_tokens"].(float64); ok {
			s.inputTok = int(v)
		}
	}
	ev.InputTokens, ev.OutputTokens = s.inputTok, s.outputTok
	ev.HasUsage = s.inputTok > 0 || s.outputTok > 0
	if ev.FinishReason == "" {
		return Event{}, false
	}
	return ev, true
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}
