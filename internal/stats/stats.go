// Package stats implements the on-demand aggregator of spec.md §4.9: given
// a since-timestamp, it scans the routing log and reports total requests,
// actual cost, a hypothetical baseline cost (every request priced as if it
// had gone to the catalog's most expensive model), and per-model/per-tier
// distributions, grounded in shape on the teacher's DeploymentStats
// snapshot (routers/memory_stats_store.go) though this aggregator is
// stateless — it recomputes from the log on every call rather than
// maintaining a running accumulator.
package stats

import (
	"sort"
	"time"

	"github.com/liekzejaws/clawd-throttle/internal/catalog"
	"github.com/liekzejaws/clawd-throttle/internal/routinglog"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// ModelBucket is one model's contribution to the distribution.
type ModelBucket struct {
	Count   int     `json:"count"`
	CostUSD float64 `json:"costUsd"`
}

// Aggregate is the GET /stats response body.
type Aggregate struct {
	PeriodStart       time.Time              `json:"periodStart"`
	PeriodEnd         time.Time              `json:"periodEnd"`
	TotalRequests     int                    `json:"totalRequests"`
	TotalCostUSD      float64                `json:"totalCostUsd"`
	BaselineCostUSD   float64                `json:"baselineCostUsd"`
	ModelDistribution map[string]ModelBucket `json:"modelDistribution"`
	TierDistribution  map[types.Tier]int     `json:"tierDistribution"`
	AvgLatencyMs      float64                `json:"avgLatencyMs"`
	P50LatencyMs      float64                `json:"p50LatencyMs"`
	P95LatencyMs      float64                `json:"p95LatencyMs"`
}

// LogReader is the subset of *routinglog.Writer the aggregator needs.
type LogReader interface {
	Since(since time.Time) ([]routinglog.Entry, error)
}

// CatalogView is the subset of *catalog.Catalog the aggregator needs. The
// baseline is recomputed from the live catalog on every call, per spec.
type CatalogView interface {
	MostExpensive() (types.ModelSpec, bool)
}

// Aggregator computes Aggregate from a log reader and a catalog view.
type Aggregator struct {
	reader  LogReader
	catalog CatalogView
}

// New constructs an Aggregator.
func New(reader LogReader, catalog CatalogView) *Aggregator {
	return &Aggregator{reader: reader, catalog: catalog}
}

// Aggregate scans every entry since the given timestamp and reduces it to
// an Aggregate. PeriodEnd is the wall-clock time Aggregate was called.
func (a *Aggregator) Aggregate(since time.Time) (Aggregate, error) {
	entries, err := a.reader.Since(since)
	if err != nil {
		return Aggregate{}, err
	}

	agg := Aggregate{
		PeriodStart:       since,
		PeriodEnd:         time.Now(),
		ModelDistribution: make(map[string]ModelBucket),
		TierDistribution:  make(map[types.Tier]int),
	}

	baseline, hasBaseline := a.catalog.MostExpensive()

	latencies := make([]int64, 0, len(entries))
	var latencySum int64

	for _, e := range entries {
		agg.TotalRequests++
		agg.TotalCostUSD += e.EstimatedCostUSD

		bucket := agg.ModelDistribution[e.ModelID]
		bucket.Count++
		bucket.CostUSD += e.EstimatedCostUSD
		agg.ModelDistribution[e.ModelID] = bucket

		agg.TierDistribution[e.Tier]++

		if hasBaseline {
			agg.BaselineCostUSD += catalog.Cost(baseline, e.InputTokens, e.OutputTokens)
		}

		latencySum += e.LatencyMs
		latencies = append(latencies, e.LatencyMs)
	}

	if agg.TotalRequests > 0 {
		agg.AvgLatencyMs = float64(latencySum) / float64(agg.TotalRequests)
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		agg.P50LatencyMs = float64(percentile(latencies, 0.50))
		agg.P95LatencyMs = float64(percentile(latencies, 0.95))
	}

	return agg, nil
}

// percentile returns the element at index floor(p*(n-1)) of a slice of
// length n already sorted ascending, for p in 0..1, without interpolation.
// Returns 0 for an empty slice.
func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
