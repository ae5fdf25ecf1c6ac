package streaming

import "github.com/goccy/go-json"

// Renderer renders neutral Events into one target SSE dialect. It is
// stateful: cross-family translation must remember whether it has already
// emitted the client dialect's "prologue" events, per spec.md §9. A
// Renderer is only used when the upstream family differs from the
// client's; same-family streams are forwarded byte-for-byte instead (see
// Forwarder.Forward).
type Renderer interface {
	Render(ev Event) []byte
	RenderDone() []byte
}

// NewRenderer returns the Renderer for the client's expected dialect.
func NewRenderer(family Family) Renderer {
	if family == FamilyOpenAI {
		return &openAIRenderer{}
	}
	return &anthropicRenderer{}
}

func sseFrame(eventName string, payload any) []byte {
	data, _ := json.Marshal(payload)
	var out []byte
	if eventName != "" {
		out = append(out, "event: "+eventName+"\n"...)
	}
	out = append(out, SSEDataPrefix...)
	out = append(out, ' ')
	out = append(out, data...)
	out = append(out, "\n\n"...)
	return out
}
