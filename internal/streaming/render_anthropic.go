package streaming

// anthropicRenderer synthesizes the Anthropic Messages typed-event
// grammar from neutral Events, for when the upstream family is Google or
// OpenAI-compatible but the client expects Anthropic SSE (spec.md §4.8).
type anthropicRenderer struct {
	startedMessage bool
	startedBlock   bool
	stopped        bool
}

func (r *anthropicRenderer) Render(ev Event) []byte {
	var out []byte

	if !r.startedMessage {
		r.startedMessage = true
		id := ev.MessageID
		if id == "" {
			id = "msg_translated"
		}
		out = append(out, sseFrame("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":    id,
				"type":  "message",
				"role":  "assistant",
				"model": ev.Model,
				"usage": map[string]any{"input_tokens": ev.InputTokens, "output_tokens": 0},
			},
		})...)
	}

	if ev.TextDelta != "" {
		if !r.startedBlock {
			r.startedBlock = true
			out = append(out, sseFrame("content_block_start", map[string]any{
				"type":  "content_block_start",
				"index": 0,
				"content_block": map[string]any{"type": "text", "text": ""},
			})...)
		}
		out = append(out, sseFrame("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": ev.TextDelta},
		})...)
	}

	if ev.Done || ev.FinishReason != "" {
		out = append(out, r.stop(ev)...)
	}

	return out
}

func (r *anthropicRenderer) stop(ev Event) []byte {
	if r.stopped {
		return nil
	}
	r.stopped = true

	var out []byte
	if r.startedBlock {
		out = append(out, sseFrame("content_block_stop", map[string]any{
			"type": "content_block_stop", "index": 0,
		})...)
	}
	stopReason := ev.FinishReason
	if stopReason == "" {
		stopReason = "end_turn"
	}
	out = append(out, sseFrame("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason},
		"usage": map[string]any{"output_tokens": ev.OutputTokens},
	})...)
	out = append(out, sseFrame("message_stop", map[string]any{"type": "message_stop"})...)
	return out
}

func (r *anthropicRenderer) RenderDone() []byte {
	return r.stop(Event{})
}
