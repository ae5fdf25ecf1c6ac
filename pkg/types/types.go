// Package types holds the neutral data model shared across the request-path
// pipeline: the ingress translates provider wire formats into these types,
// and the dispatcher translates them back out.
package types

import "time"

// Role is the speaker of a NeutralMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// NeutralMessage is one turn of a conversation, decoupled from any
// particular wire format. Content is kept as the raw JSON value so that
// opaque tool-call blocks round-trip untouched in passthrough mode.
type NeutralMessage struct {
	Role    Role   `json:"role"`
	Content []byte `json:"content"`
}

// IngressFormat records which wire dialect a request arrived in, so the
// dispatcher and response mediator know which dialect to render back out.
type IngressFormat string

const (
	FormatAnthropic IngressFormat = "anthropic"
	FormatOpenAI    IngressFormat = "openai"
)

// ParsedRequest is the neutral representation of an inbound chat request.
type ParsedRequest struct {
	Messages      []NeutralMessage
	System        string
	MaxTokens     int
	Temperature   *float64
	Stream        bool
	IngressFormat IngressFormat

	// RawBody and headers are retained verbatim for Anthropic-family
	// passthrough dispatch (tools, tool_choice, thinking, metadata, and
	// tool-content blocks must round-trip exactly).
	RawBody          []byte
	AnthropicVersion string
	AnthropicBeta    string

	// Control headers.
	ForceModelHeader string
	SessionID        string
	ClientID         string
	ParentRequestID  string
	HasTools         bool
}

// LastUserText returns the text of the most recent user message, used by
// the classifier and override detector. Non-text content blocks are
// ignored; callers only need a best-effort text signal.
func (p *ParsedRequest) LastUserText() string {
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if p.Messages[i].Role == RoleUser {
			return ExtractText(p.Messages[i].Content)
		}
	}
	return ""
}

// ModelSpec is a catalog entry: a stable identifier, its provider, and its
// pricing/context parameters. Loaded once at startup, never mutated.
type ModelSpec struct {
	ID                 string  `json:"id"`
	DisplayName        string  `json:"displayName"`
	Provider           string  `json:"provider"`
	InputCostPerMTok   float64 `json:"inputCostPerMTok"`
	OutputCostPerMTok  float64 `json:"outputCostPerMTok"`
	MaxContextTokens   int     `json:"maxContextTokens"`
}

// Tier is the classifier's coarse complexity bucket. The zero value is
// invalid; always use the named constants so tier comparisons via Rank are
// well defined.
type Tier string

const (
	TierSimple   Tier = "simple"
	TierStandard Tier = "standard"
	TierComplex  Tier = "complex"
)

// Rank gives the total order simple < standard < complex used for pin
// monotonicity and confidence step-up.
func (t Tier) Rank() int {
	switch t {
	case TierSimple:
		return 0
	case TierStandard:
		return 1
	case TierComplex:
		return 2
	default:
		return -1
	}
}

// Next returns the tier one step above t, saturating at complex.
func (t Tier) Next() Tier {
	switch t {
	case TierSimple:
		return TierStandard
	default:
		return TierComplex
	}
}

// Mode is the user-selected routing posture.
type Mode string

const (
	ModeEco       Mode = "eco"
	ModeStandard  Mode = "standard"
	ModeGigachad  Mode = "gigachad"
)

// NormalizeMode maps the legacy "performance" alias onto the canonical
// "gigachad" spelling used in logs and stats.
func NormalizeMode(raw string) Mode {
	if raw == "performance" {
		return ModeGigachad
	}
	return Mode(raw)
}

// ClassificationResult is the classifier's pure output for one request.
type ClassificationResult struct {
	Composite  float64            `json:"composite"`
	Tier       Tier               `json:"tier"`
	Confidence float64            `json:"confidence"`
	Dimensions map[string]float64 `json:"dimensions"`
	Elapsed    time.Duration      `json:"elapsedNs"`
}

// OverrideKind tags the variant carried by an OverrideResult.
type OverrideKind string

const (
	OverrideNone             OverrideKind = "none"
	OverrideHeartbeat        OverrideKind = "heartbeat"
	OverrideForceModel       OverrideKind = "force_model"
	OverrideToolCalling      OverrideKind = "tool_calling"
	OverrideSubAgentInherit  OverrideKind = "sub_agent_inherit"
	OverrideSubAgentStepdown OverrideKind = "sub_agent_stepdown"
)

// OverrideResult is a tagged variant: Kind selects which of the payload
// fields (if any) is meaningful.
type OverrideResult struct {
	Kind    OverrideKind
	ModelID string // force_model, sub_agent_inherit/stepdown
}

// RoutingDecision is the router's output: the chosen model plus enough
// context to pin a session, log the decision, and explain it to the client.
type RoutingDecision struct {
	ModelID    string
	Tier       Tier
	Mode       Mode
	Override   OverrideKind
	Reasoning  string
	Provider   string
}

// ProxyResponse is the neutral shape of an upstream's completed (or
// stream-accumulated) answer, before re-encoding into the client's dialect.
type ProxyResponse struct {
	Content      []byte
	InputTokens  int
	OutputTokens int
	FinishReason string
	ModelID      string
	Provider     string
	LatencyMs    int64
	KeyType      string
	Failover     bool
}

// ExtractText pulls plain text out of either a bare JSON string or an
// Anthropic-style array of content blocks ({"type":"text","text":"..."}).
// Non-text blocks (tool_use, tool_result, images, ...) are skipped.
func ExtractText(raw []byte) string {
	return extractText(raw)
}
