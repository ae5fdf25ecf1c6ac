package streaming

// Event is the neutral representation of one upstream SSE chunk, used for
// token accounting and for rendering into the client's dialect when the
// upstream and client families differ.
type Event struct {
	TextDelta    string
	FinishReason string
	// InputTokens/OutputTokens are the latest observed cumulative totals,
	// not per-chunk deltas: providers report running totals or a single
	// final total differently, so callers must take the latest value
	// rather than summing (spec.md §4.8).
	InputTokens  int
	OutputTokens int
	HasUsage     bool
	MessageID    string
	Model        string
	// Start/Done mark the synthetic beginning/end of the neutral event
	// stream so a cross-family renderer knows when to emit its prologue
	// and epilogue events.
	Start bool
	Done  bool
}

// Family is one of the three upstream SSE dialects this proxy understands.
type Family string

const (
	FamilyAnthropic Family = "anthropic"
	FamilyGoogle    Family = "google"
	FamilyOpenAI    Family = "openai"
)

// Source incrementally parses one upstream dialect's raw SSE events into
// neutral Events. A Source is stateful and must not be shared across
// requests: it tracks the message id/model announced early in the stream
// (Anthropic) or the running usage totals (all three).
type Source interface {
	// Parse consumes one rawEvent and returns the neutral Event it
	// represents, or ok=false for a keepalive/non-content event.
	Parse(ev *rawEvent) (Event, bool)
}

// NewSource returns the Source implementation for family.
func NewSource(family Family) Source {
	switch family {
	case FamilyAnthropic:
		return &anthropicSource{}
	case FamilyGoogle:
		return &googleSource{}
	default:
		return &openAISource{}
	}
}
