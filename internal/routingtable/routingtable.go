// Package routingtable loads the mode -> tier -> ordered preference list
// configuration that drives the router's first pass.
package routingtable

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/liekzejaws/clawd-throttle/internal/catalog"
	"github.com/liekzejaws/clawd-throttle/pkg/types"
)

// Tiers is the shape of one mode's cell: tier -> ordered model ids.
type Tiers map[types.Tier][]string

// Table is mode -> Tiers. Loaded once at startup, immutable thereafter.
type Table map[types.Mode]Tiers

// rawTable mirrors the JSON file shape (string keys, since the Mode alias
// for "performance" must be normalized after decode, not before).
type rawTable map[string]map[string][]string

// Load reads, normalizes and validates the routing table file at path
// against cat. An unresolved model id is a fatal startup error.
func Load(path string, cat *catalog.Catalog) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing table: %w", err)
	}

	var raw rawTable
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse routing table: %w", err)
	}

	table := make(Table)
	for modeKey, tiers := range raw {
		mode := types.NormalizeMode(modeKey)
		cell := make(Tiers)
		for tierKey, ids := range tiers {
			tier := types.Tier(tierKey)
			if err := cat.ValidateIDs(ids); err != nil {
				return nil, fmt.Errorf("routing table %s/%s: %w", modeKey, tierKey, err)
			}
			cell[tier] = ids
		}
		table[mode] = cell
	}

	for _, mode := range []types.Mode{types.ModeEco, types.ModeStandard, types.ModeGigachad} {
		if _, ok := table[mode]; !ok {
			return nil, fmt.Errorf("routing table: missing mode %q", mode)
		}
		for _, tier := range []types.Tier{types.TierSimple, types.TierStandard, types.TierComplex} {
			if _, ok := table[mode][tier]; !ok {
				return nil, fmt.Errorf("routing table: mode %q missing tier %q", mode, tier)
			}
		}
	}

	return table, nil
}

// Preferences returns the ordered preference list for (mode, tier), or nil
// if the cell is absent.
func (t Table) Preferences(mode types.Mode, tier types.Tier) []string {
	cell, ok := t[mode]
	if !ok {
		return nil
	}
	return cell[tier]
}
