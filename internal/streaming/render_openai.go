package streaming

// openAIRenderer synthesizes the OpenAI chat.completion.chunk grammar
// from neutral Events, for when the upstream family is Anthropic or
// Google but the client expects the OpenAI-compatible dialect.
type openAIRenderer struct {
	sentRole bool
	sentDone bool
}

func (r *openAIRenderer) Render(ev Event) []byte {
	var out []byte

	delta := map[string]any{}
	if !r.sentRole {
		r.sentRole = true
		delta["role"] = "assistant"
	}
	if ev.TextDelta != "" {
		delta["content"] = ev.TextDelta
	}

	choice := map[string]any{"index": 0, "delta": delta}
	if ev.FinishReason != "" {
		choice["finish_reason"] = ev.FinishReason
	} else {
		choice["finish_reason"] = nil
	}

	if len(delta) > 0 || ev.FinishReason != "" {
		out = append(out, sseFrame("", map[string]any{
			"id":      valueOr(ev.MessageID, "chatcmpl_translated"),
			"object":  "chat.completion.chunk",
			"model":   ev.Model,
			"choices": []any{choice},
		})...)
	}

	if ev.Done {
		out = append(out, r.done()...)
	}
	return out
}

func (r *openAIRenderer) done() []byte {
	if r.sentDone {
		return nil
	}
	r.sentDone = true
	return []byte(SSEDataPrefix + " " + SSEDone + "\n\n")
}

func (r *openAIRenderer) RenderDone() []byte {
	return r.done()
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
