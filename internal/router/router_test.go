package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liekzejaws/clawd-throttle/internal/catalog"
	"github.com/liekzejaws/clawd-throttle/internal/ratelimit"
	"github.com/liekzejaws/clawd-throttle/internal/routingtable"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

type fakeProviders struct {
	configured map[string]bool
}

func (f fakeProviders) IsConfigured(provider string) bool { return f.configured[provider] }

func testCatalog(t *testing.T) *catalog.Catalog {
	cat, err := catalog.New([]types.ModelSpec{
		{ID: "haiku", Provider: "anthropic", InputCostPerMTok: 0.25, OutputCostPerMTok: 1.25},
		{ID: "sonnet", Provider: "anthropic", InputCostPerMTok: 3, OutputCostPerMTok: 15},
		{ID: "opus", Provider: "anthropic", InputCostPerMTok: 15, OutputCostPerMTok: 75},
		{ID: "gpt-mini", Provider: "openai", InputCostPerMTok: 0.15, OutputCostPerMTok: 0.6},
	})
	require.NoError(t, err)
	return cat
}

func testTable() routingtable.Table {
	return routingtable.Table{
		types.ModeEco: routingtable.Tiers{
			types.TierSimple:   []string{"haiku", "gpt-mini"},
			types.TierStandard: []string{"sonnet", "haiku"},
			types.TierComplex:  []string{"opus", "sonnet"},
		},
	}
}

func TestDecide_PreferenceListWalk(t *testing.T) {
	cat := testCatalog(t)
	r := New(cat, testTable())
	providers := fakeProviders{configured: map[string]bool{"anthropic": true, "openai": true}}
	limiter := ratelimit.NewLimiter()

	classification := types.ClassificationResult{Tier: types.TierSimple, Confidence: 0.9}
	decision, err := r.Decide(classification, types.ModeEco, types.OverrideResult{Kind: types.OverrideNone}, providers, limiter)
	require.NoError(t, err)
	assert.Equal(t, "haiku", decision.ModelID)
}

func TestDecide_RateLimitFiltering(t *testing.T) {
	cat := testCatalog(t)
	r := New(cat, testTable())
	providers := fakeProviders{configured: map[string]bool{"anthropic": true, "openai": true}}
	limiter := ratelimit.NewLimiter()
	limiter.MarkRateLimited("haiku", 0)

	classification := types.ClassificationResult{Tier: types.TierSimple, Confidence: 0.9}
	decision, err := r.Decide(classification, types.ModeEco, types.OverrideResult{Kind: types.OverrideNone}, providers, limiter)
	require.NoError(t, err)
	assert.Equal(t, "gpt-mini", decision.ModelID)
}

func TestDecide_ConfidenceStepUp(t *testing.T) {
	cat := testCatalog(t)
	r := New(cat, testTable())
	providers := fakeProviders{configured: map[string]bool{"anthropic": true, "openai": true}}
	limiter := ratelimit.NewLimiter()

	classification := types.ClassificationResult{Tier: types.TierSimple, Confidence: 0.5}
	decision, err := r.Decide(classification, types.ModeEco, types.OverrideResult{Kind: types.OverrideNone}, providers, limiter)
	require.NoError(t, err)
	assert.Equal(t, types.TierStandard, decision.Tier)
	assert.Equal(t, "sonnet", decision.ModelID)
}

func TestDecide_ToolCallingFloor(t *testing.T) {
	cat := testCatalog(t)
	r := New(cat, testTable())
	providers := fakeProviders{configured: map[string]bool{"anthropic": true, "openai": true}}
	limiter := ratelimit.NewLimiter()

	classification := types.ClassificationResult{Tier: types.TierSimple, Confidence: 0.95}
	decision, err := r.Decide(classification, types.ModeEco, types.OverrideResult{Kind: types.OverrideToolCalling}, providers, limiter)
	require.NoError(t, err)
	assert.Equal(t, types.TierStandard, decision.Tier)
	assert.Contains(t, decision.Reasoning, "tool_calling tier floor")
}

func TestDecide_ForceModelOverride(t *testing.T) {
	cat := testCatalog(t)
	r := New(cat, testTable())
	providers := fakeProviders{configured: map[string]bool{"anthropic": true, "openai": true}}
	limiter := ratelimit.NewLimiter()

	classification := types.ClassificationResult{Tier: types.TierSimple, Confidence: 0.95}
	decision, err := r.Decide(classification, types.ModeEco, types.OverrideResult{Kind: types.OverrideForceModel, ModelID: "opus"}, providers, limiter)
	require.NoError(t, err)
	assert.Equal(t, "opus", decision.ModelID)
}

func TestDecide_GlobalFallbackWhenPreferenceListExhausted(t *testing.T) {
	cat := testCatalog(t)
	r := New(cat, testTable())
	providers := fakeProviders{configured: map[string]bool{"openai": true}}
	limiter := ratelimit.NewLimiter()

	classification := types.ClassificationResult{Tier: types.TierStandard, Confidence: 0.95}
	decision, err := r.Decide(classification, types.ModeEco, types.OverrideResult{Kind: types.OverrideNone}, providers, limiter)
	require.NoError(t, err)
	assert.Equal(t, "gpt-mini", decision.ModelID)
}

func TestDecide_NoAvailableModel(t *testing.T) {
	cat := testCatalog(t)
	r := New(cat, testTable())
	providers := fakeProviders{configured: map[string]bool{}}
	limiter := ratelimit.NewLimiter()

	classification := types.ClassificationResult{Tier: types.TierSimple, Confidence: 0.95}
	_, err := r.Decide(classification, types.ModeEco, types.OverrideResult{Kind: types.OverrideNone}, providers, limiter)
	require.Error(t, err)
}
