// Package override recognizes classification-bypassing directives: the
// heartbeat/summary pattern set, explicit force-model tokens, sub-agent
// tier inheritance from a parent request, and the tool-calling floor.
// Evaluation order matters: the first matching rule wins.
package override

import (
	"regexp"
	"strings"

	"github.com/liekzejaws/clawd-throttle/internal/observability"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// heartbeatRe matches short heartbeat/summary prompts. Anchored so it
// doesn't fire on prose that merely contains the word "ping".
var heartbeatRe = regexp.MustCompile(`(?i)^\s*(ping|pong|heartbeat|are you there\??|tl;?dr|recap|summarize(\s+this)?|give me a( brief)? summary)\s*[.!?]*\s*$`)

// Aliases maps a force-model token (header value or inline "/command"
// prefix) onto a catalog model id.
type Aliases map[string]string

// DefaultAliases matches the inline-command set named in spec.md §4.3;
// callers extend/override it from configuration at startup.
func DefaultAliases() Aliases {
	return Aliases{
		"opus":      "claude-opus",
		"sonnet":    "claude-sonnet",
		"haiku":     "claude-haiku",
		"flash":     "gemini-flash",
		"grok-fast": "grok-fast",
	}
}

var inlinePrefixRe = regexp.MustCompile(`^/([a-zA-Z0-9_-]+)\b`)

// Detector evaluates the ordered rule set for a request. It needs a
// resolver for parent request ids (from the routing log) and the catalog
// hierarchy for sub-agent step-down, both supplied by the caller so this
// package stays free of a direct dependency on the log format.
type Detector struct {
	aliases  Aliases
	hierarchy []string // cheapest ... most-capable catalog ids
	logger   *observability.Logger
}

// ParentLookup resolves a parent request id to the model it was routed to.
// Returns ok=false if the id is unknown.
type ParentLookup func(parentRequestID string) (modelID string, ok bool)

// New constructs a Detector. hierarchy must be ordered cheapest-first, as
// returned by catalog.Catalog.Hierarchy.
func New(aliases Aliases, hierarchy []string, logger *observability.Logger) *Detector {
	return &Detector{aliases: aliases, hierarchy: hierarchy, logger: logger}
}

// Detect runs the ordered rule set against req, consulting lookupParent
// only if req carries a parent request id.
func (d *Detector) Detect(req *types.ParsedRequest, lookupParent ParentLookup) types.OverrideResult {
	if isHeartbeat(req.LastUserText()) {
		return types.OverrideResult{Kind: types.OverrideHeartbeat}
	}

	if id, ok := d.resolveForceModel(req); ok {
		return types.OverrideResult{Kind: types.OverrideForceModel, ModelID: id}
	}

	if req.ParentRequestID != "" {
		if parentModel, ok := lookupParent(req.ParentRequestID); ok {
			return d.subAgentOverride(parentModel)
		}
		if d.logger != nil {
			d.logger.Warn("unknown parent request id, treating as no override", "parent_request_id", req.ParentRequestID)
		}
	}

	if req.HasTools {
		return types.OverrideResult{Kind: types.OverrideToolCalling}
	}

	return types.OverrideResult{Kind: types.OverrideNone}
}

func isHeartbeat(text string) bool {
	return heartbeatRe.MatchString(strings.TrimSpace(text))
}

// resolveForceModel checks the X-Throttle-Force-Model header first, then an
// inline "/alias" prefix on the last user utterance.
func (d *Detector) resolveForceModel(req *types.ParsedRequest) (string, bool) {
	if req.ForceModelHeader != "" {
		if id, ok := d.aliases[strings.ToLower(req.ForceModelHeader)]; ok {
			return id, true
		}
		return "", false
	}

	text := strings.TrimSpace(req.LastUserText())
	m := inlinePrefixRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	id, ok := d.aliases[strings.ToLower(m[1])]
	return id, ok
}

// subAgentOverride implements spec.md §4.3 rule 3: step one tier below the
// parent's model in the cheapest..most-capable hierarchy, or inherit
// unchanged if the parent is already at the floor or outside the
// hierarchy entirely (open question in spec.md §9 — follow the original's
// behavior and never synthesize a step-down for an unrecognized parent
// model).
func (d *Detector) subAgentOverride(parentModel string) types.OverrideResult {
	idx := -1
	for i, id := range d.hierarchy {
		if id == parentModel {
			idx = i
			break
		}
	}

	if idx <= 0 {
		// Parent is at the floor, or not found in the hierarchy at all.
		return types.OverrideResult{Kind: types.OverrideSubAgentInherit, ModelID: parentModel}
	}

	return types.OverrideResult{Kind: types.OverrideSubAgentStepdown, ModelID: d.hierarchy[idx-1]}
}
