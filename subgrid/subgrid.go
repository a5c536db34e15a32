// Package subgrid implements the subgrid level interpolator (C10): mapping
// each basin's coarse water level onto finer-resolution element levels
// through the piecewise-linear breakpoint tables inp.Build reads from the
// optional "Basin_subgrid" table (spec.md §4.10). It is deliberately thin,
// the way the teacher's out package turns a handful of per-element arrays
// into a results.Points structure without any numerical work of its own.
package subgrid

import (
	"sort"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
)

// Interpolator groups a Model's subgrid maps by basin for fast per-step
// lookup (spec.md §4.10 "subgrid output is optional and does not feed back
// into the simulation").
type Interpolator struct {
	byBasin map[graph.NodeID][]*inp.SubgridMap
}

// New groups m.Subgrids by basin; returns an Interpolator with no entries
// if the model carries no subgrid table.
func New(m *inp.Model) *Interpolator {
	ip := &Interpolator{byBasin: map[graph.NodeID][]*inp.SubgridMap{}}
	for _, sm := range m.Subgrids {
		ip.byBasin[sm.Basin] = append(ip.byBasin[sm.Basin], sm)
	}
	for _, maps := range ip.byBasin {
		sort.Slice(maps, func(i, j int) bool { return maps[i].SubgridID < maps[j].SubgridID })
	}
	return ip
}

// ElementLevel is one subgrid element's interpolated level at a given basin
// level (spec.md §4.10).
type ElementLevel struct {
	SubgridID int
	Level     float64
}

// Eval returns every subgrid element tied to basin at the given basin
// level, in ascending subgrid_id order for deterministic output.
func (ip *Interpolator) Eval(basin graph.NodeID, basinLevel float64) []ElementLevel {
	maps := ip.byBasin[basin]
	if len(maps) == 0 {
		return nil
	}
	out := make([]ElementLevel, len(maps))
	for i, sm := range maps {
		out[i] = ElementLevel{SubgridID: sm.SubgridID, Level: sm.Eval(basinLevel)}
	}
	return out
}

// HasSubgrid reports whether basin carries any subgrid mapping.
func (ip *Interpolator) HasSubgrid(basin graph.NodeID) bool {
	return len(ip.byBasin[basin]) > 0
}
