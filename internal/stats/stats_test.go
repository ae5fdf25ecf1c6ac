package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liekzejaws/clawd-throttle/internal/routinglog"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

type fakeReader struct {
	entries []routinglog.Entry
}

func (f *fakeReader) Since(time.Time) ([]routinglog.Entry, error) { return f.entries, nil }

type fakeCatalog struct {
	model types.ModelSpec
	ok    bool
}

func (f *fakeCatalog) MostExpensive() (types.ModelSpec, bool) { return f.model, f.ok }

func TestAggregate_TotalsAndDistributions(t *testing.T) {
	reader := &fakeReader{entries: []routinglog.Entry{
		{ModelID: "claude-haiku", Tier: types.TierSimple, EstimatedCostUSD: 0.01, InputTokens: 1000, OutputTokens: 500, LatencyMs: 100},
		{ModelID: "claude-haiku", Tier: types.TierSimple, EstimatedCostUSD: 0.02, InputTokens: 2000, OutputTokens: 500, LatencyMs: 200},
		{ModelID: "claude-opus", Tier: types.TierComplex, EstimatedCostUSD: 0.50, InputTokens: 1000, OutputTokens: 1000, LatencyMs: 900},
	}}
	baseline := types.ModelSpec{ID: "claude-opus", InputCostPerMTok: 15, OutputCostPerMTok: 75}
	cat := &fakeCatalog{model: baseline, ok: true}

	agg, err := New(reader, cat).Aggregate(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 3, agg.TotalRequests)
	assert.InDelta(t, 0.53, agg.TotalCostUSD, 1e-9)
	assert.Equal(t, 2, agg.ModelDistribution["claude-haiku"].Count)
	assert.InDelta(t, 0.03, agg.ModelDistribution["claude-haiku"].CostUSD, 1e-9)
	assert.Equal(t, 1, agg.ModelDistribution["claude-opus"].Count)
	assert.Equal(t, 2, agg.TierDistribution[types.TierSimple])
	assert.Equal(t, 1, agg.TierDistribution[types.TierComplex])
	assert.InDelta(t, float64(100+200+900)/3, agg.AvgLatencyMs, 1e-9)

	wantBaseline := (1000.0/1e6*15 + 500.0/1e6*75) + (2000.0/1e6*15 + 500.0/1e6*75) + (1000.0/1e6*15 + 1000.0/1e6*75)
	assert.InDelta(t, wantBaseline, agg.BaselineCostUSD, 1e-9)
}

func TestAggregate_EmptyLogYieldsZeroedAggregate(t *testing.T) {
	reader := &fakeReader{}
	cat := &fakeCatalog{ok: false}

	agg, err := New(reader, cat).Aggregate(time.Now())
	require.NoError(t, err)

	assert.Equal(t, 0, agg.TotalRequests)
	assert.Zero(t, agg.TotalCostUSD)
	assert.Zero(t, agg.BaselineCostUSD)
	assert.Zero(t, agg.AvgLatencyMs)
}

func TestAggregate_LatencyPercentiles(t *testing.T) {
	var entries []routinglog.Entry
	for _, ms := range []int64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000} {
		entries = append(entries, routinglog.Entry{ModelID: "m", LatencyMs: ms})
	}
	reader := &fakeReader{entries: entries}
	cat := &fakeCatalog{ok: false}

	agg, err := New(reader, cat).Aggregate(time.Now())
	require.NoError(t, err)

	assert.Equal(t, int64(500), int64(agg.P50LatencyMs))
	assert.Equal(t, int64(900), int64(agg.P95LatencyMs))
}
