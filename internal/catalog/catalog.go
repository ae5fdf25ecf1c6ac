// Package catalog loads and indexes the model catalog file: the closed set
// of ModelSpecs the router is allowed to choose from. Loaded once at
// startup; the returned Catalog is immutable and safe for concurrent reads.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// Catalog indexes ModelSpecs by id for O(1) lookup.
type Catalog struct {
	byID   map[string]types.ModelSpec
	models []types.ModelSpec
}

type fileShape struct {
	Models []types.ModelSpec `json:"models"`
}

// Load reads and validates the catalog file at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model catalog: %w", err)
	}

	var shape fileShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}

	return New(shape.Models)
}

// New builds a Catalog from an already-decoded model list, validating that
// every id is non-empty and unique. Cost and context fields are not checked.
func New(models []types.ModelSpec) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]types.ModelSpec, len(models))}
	for _, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("model catalog: entry with empty id")
		}
		if _, exists := c.byID[m.ID]; exists {
			return nil, fmt.Errorf("model catalog: duplicate id %q", m.ID)
		}
		c.byID[m.ID] = m
		c.models = append(c.models, m)
	}
	return c, nil
}

// Get returns the ModelSpec for id, or false if unknown.
func (c *Catalog) Get(id string) (types.ModelSpec, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// All returns every catalog entry, in load order.
func (c *Catalog) All() []types.ModelSpec {
	return c.models
}

// ValidateIDs fails fast if any id in ids is not present in the catalog.
// Used at startup by the routing-table loader.
func (c *Catalog) ValidateIDs(ids []string) error {
	for _, id := range ids {
		if _, ok := c.byID[id]; !ok {
			return fmt.Errorf("model catalog: unresolved id %q referenced by configuration", id)
		}
	}
	return nil
}

// Cheapest returns the catalog entry with the lowest input+output cost per
// million tokens among the given set of configured, non-rate-limited ids.
// Used for heartbeat resolution and the router's global fallback.
func (c *Catalog) Cheapest(candidateIDs []string) (types.ModelSpec, bool) {
	var best types.ModelSpec
	found := false
	for _, id := range candidateIDs {
		m, ok := c.byID[id]
		if !ok {
			continue
		}
		if !found || totalCost(m) < totalCost(best) {
			best = m
			found = true
		}
	}
	return best, found
}

func totalCost(m types.ModelSpec) float64 {
	return m.InputCostPerMTok + m.OutputCostPerMTok
}

// Cost returns the USD cost of inputTokens/outputTokens against m's
// per-million-token rates. Used by the dispatcher to annotate the routing
// log and by the stats aggregator to price both actual and hypothetical
// baseline usage.
func Cost(m types.ModelSpec, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*m.InputCostPerMTok + float64(outputTokens)/1e6*m.OutputCostPerMTok
}

// MostExpensive returns the catalog entry with the highest input+output
// cost per million tokens, used as the stats aggregator's baseline.
func (c *Catalog) MostExpensive() (types.ModelSpec, bool) {
	if len(c.models) == 0 {
		return types.ModelSpec{}, false
	}
	sorted := append([]types.ModelSpec(nil), c.models...)
	sort.Slice(sorted, func(i, j int) bool { return totalCost(sorted[i]) > totalCost(sorted[j]) })
	return sorted[0], true
}

// Hierarchy returns every catalog model id ordered cheapest to most
// capable (by total cost per token, ascending), used for sub-agent
// tier step-down resolution.
func (c *Catalog) Hierarchy() []string {
	sorted := append([]types.ModelSpec(nil), c.models...)
	sort.Slice(sorted, func(i, j int) bool { return totalCost(sorted[i]) < totalCost(sorted[j]) })
	ids := make([]string, len(sorted))
	for i, m := range sorted {
		ids[i] = m.ID
	}
	return ids
}
