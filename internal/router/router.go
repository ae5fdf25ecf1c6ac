// Package router implements the routing decision: given a classification,
// an override, the configured providers, and rate-limit state, it picks
// the first available model from a mode/tier preference list, applying the
// confidence step-up and tool-calling floor from spec.md §4.4.
package router

import (
	"fmt"

	"github.com/liekzejaws/clawd-throttle/internal/catalog"
	"github.com/liekzejaws/clawd-throttle/internal/ratelimit"
	"github.com/liekzejaws/clawd-throttle/internal/routingtable"
	"github.com/liekzejaws/clawd-throttle/pkg/errors"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// ConfiguredProviders reports which provider tags currently have a usable
// (apiKey, baseUrl) binding.
type ConfiguredProviders interface {
	IsConfigured(provider string) bool
}

// Router holds the immutable inputs (catalog, routing table) needed to
// make a decision; rate-limit state and provider configuration are passed
// per call since they can change between requests.
type Router struct {
	cat   *catalog.Catalog
	table routingtable.Table
}

// New constructs a Router over the given catalog and routing table.
func New(cat *catalog.Catalog, table routingtable.Table) *Router {
	return &Router{cat: cat, table: table}
}

const confidenceStepUpThreshold = 0.70

// Decide implements spec.md §4.4's five-step algorithm.
func (r *Router) Decide(
	classification types.ClassificationResult,
	mode types.Mode,
	override types.OverrideResult,
	providers ConfiguredProviders,
	limiter *ratelimit.Limiter,
) (types.RoutingDecision, error) {
	// Step 1: override-forced model, if present and available.
	if modelID, ok := r.overrideModelID(override); ok {
		if spec, exists := r.cat.Get(modelID); exists && providers.IsConfigured(spec.Provider) && !limiter.IsRateLimited(modelID) {
			return types.RoutingDecision{
				ModelID:   modelID,
				Tier:      classification.Tier,
				Mode:      mode,
				Override:  override.Kind,
				Provider:  spec.Provider,
				Reasoning: fmt.Sprintf("override=%s forced model=%s", override.Kind, modelID),
			}, nil
		}
		// Rate-limited or unavailable: fall through to normal routing but
		// retain the override tag for logging, per spec.md §4.4 step 1.
	}

	if override.Kind == types.OverrideHeartbeat {
		if spec, ok := r.cheapestConfigured(providers, limiter); ok {
			return types.RoutingDecision{
				ModelID:   spec.ID,
				Tier:      types.TierSimple,
				Mode:      mode,
				Override:  override.Kind,
				Provider:  spec.Provider,
				Reasoning: "override=heartbeat resolved to cheapest configured model",
			}, nil
		}
	}

	// Step 2: effective tier after tool-calling floor / confidence step-up.
	effectiveTier, stepUpReason := r.effectiveTier(classification, override)

	// Step 3: preference resolution.
	prefs := r.table.Preferences(mode, effectiveTier)
	for _, modelID := range prefs {
		spec, ok := r.cat.Get(modelID)
		if !ok || !providers.IsConfigured(spec.Provider) || limiter.IsRateLimited(modelID) {
			continue
		}
		return types.RoutingDecision{
			ModelID:   modelID,
			Tier:      effectiveTier,
			Mode:      mode,
			Override:  override.Kind,
			Provider:  spec.Provider,
			Reasoning: r.reasoning(mode, effectiveTier, classification, stepUpReason, ""),
		}, nil
	}

	// Step 4: global fallback across every configured, non-rate-limited model.
	if spec, ok := r.cheapestConfigured(providers, limiter); ok {
		return types.RoutingDecision{
			ModelID:   spec.ID,
			Tier:      effectiveTier,
			Mode:      mode,
			Override:  override.Kind,
			Provider:  spec.Provider,
			Reasoning: r.reasoning(mode, effectiveTier, classification, stepUpReason, "preference list exhausted, used cheapest global fallback"),
		}, nil
	}

	return types.RoutingDecision{}, errors.NoAvailableModel("no configured, non-rate-limited model available for any preference list or the global fallback")
}

func (r *Router) overrideModelID(override types.OverrideResult) (string, bool) {
	switch override.Kind {
	case types.OverrideForceModel, types.OverrideSubAgentInherit, types.OverrideSubAgentStepdown:
		return override.ModelID, override.ModelID != ""
	default:
		return "", false
	}
}

// effectiveTier applies the tool-calling floor then the confidence
// step-up, in that order, per spec.md §4.4 step 2.
func (r *Router) effectiveTier(classification types.ClassificationResult, override types.OverrideResult) (types.Tier, string) {
	tier := classification.Tier

	if override.Kind == types.OverrideToolCalling && tier.Rank() < types.TierStandard.Rank() {
		tier = types.TierStandard
		if classification.Confidence < confidenceStepUpThreshold && tier.Rank() < types.TierComplex.Rank() {
			return tier.Next(), "tool_calling tier floor, then confidence step-up"
		}
		return tier, "tool_calling tier floor"
	}

	if classification.Confidence < confidenceStepUpThreshold && tier.Rank() < types.TierComplex.Rank() {
		return tier.Next(), "confidence step-up"
	}

	return tier, ""
}

func (r *Router) cheapestConfigured(providers ConfiguredProviders, limiter *ratelimit.Limiter) (types.ModelSpec, bool) {
	var candidates []string
	for _, m := range r.cat.All() {
		if providers.IsConfigured(m.Provider) && !limiter.IsRateLimited(m.ID) {
			candidates = append(candidates, m.ID)
		}
	}
	return r.cat.Cheapest(candidates)
}

func (r *Router) reasoning(mode types.Mode, tier types.Tier, c types.ClassificationResult, stepUpReason, extra string) string {
	s := fmt.Sprintf("mode=%s effectiveTier=%s compositeScore=%.3f", mode, tier, c.Composite)
	if stepUpReason != "" {
		s += " cause=" + stepUpReason
	}
	if extra != "" {
		s += " " + extra
	}
	return s
}
