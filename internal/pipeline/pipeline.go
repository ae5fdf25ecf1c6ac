// Package pipeline composes the classifier, override detector, router, and
// session store into the single per-request decision path described in
// spec.md §4.4–§4.5: classify, apply one-shot failure escalation, detect
// overrides, route, then reconcile against any session pin.
package pipeline

import (
	"fmt"
	"time"

	"github.com/liekzejaws/clawd-throttle/internal/catalog"
	"github.com/liekzejaws/clawd-throttle/internal/classifier"
	"github.com/liekzejaws/clawd-throttle/internal/override"
	"github.com/liekzejaws/clawd-throttle/internal/ratelimit"
	"github.com/liekzejaws/clawd-throttle/internal/router"
	"github.com/liekzejaws/clawd-throttle/internal/session"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// FailureEscalationWindow is the one-shot look-back window for a session's
// most recent dispatch failure (spec.md §4.5).
const FailureEscalationWindow = 10 * time.Minute

// Pipeline wires the four per-request components together.
type Pipeline struct {
	classifier *classifier.Classifier
	detector   *override.Detector
	router     *router.Router
	sessions   *session.Store
	catalog    *catalog.Catalog
}

// New constructs a Pipeline. cat is used to re-derive a decision's
// Provider when a session pin substitutes a different model than the one
// the router just picked, the same catalog router.Router already holds.
func New(c *classifier.Classifier, d *override.Detector, r *router.Router, s *session.Store, cat *catalog.Catalog) *Pipeline {
	return &Pipeline{classifier: c, detector: d, router: r, sessions: s, catalog: cat}
}

// Result bundles everything the ingress/logging layer needs about one
// completed decision.
type Result struct {
	Classification types.ClassificationResult
	Override       types.OverrideResult
	Decision       types.RoutingDecision
}

// Decide runs the full per-request decision path.
func (p *Pipeline) Decide(
	req *types.ParsedRequest,
	mode types.Mode,
	providers router.ConfiguredProviders,
	limiter *ratelimit.Limiter,
	lookupParent override.ParentLookup,
) (Result, error) {
	classification := p.classifier.Classify(req.LastUserText(), classifier.Meta{
		MessageCount: len(req.Messages),
		SystemPrompt: req.System,
	})

	if req.SessionID != "" && p.sessions.HasRecentFailure(req.SessionID, FailureEscalationWindow) {
		classification.Tier = classification.Tier.Next()
	}

	ovr := p.detector.Detect(req, lookupParent)

	decision, err := p.router.Decide(classification, mode, ovr, providers, limiter)
	if err != nil {
		return Result{}, err
	}

	if req.SessionID != "" {
		effectiveModelID, effectiveTier := p.sessions.Set(req.SessionID, decision.ModelID, decision.Tier)
		if effectiveModelID != decision.ModelID {
			decision.ModelID = effectiveModelID
			decision.Tier = effectiveTier
			if spec, ok := p.catalog.Get(effectiveModelID); ok {
				decision.Provider = spec.Provider
			}
			decision.Reasoning = fmt.Sprintf("%s; session-pinned from prior tier=%s", decision.Reasoning, effectiveTier)
		}
	}

	return Result{Classification: classification, Override: ovr, Decision: decision}, nil
}
