// Package jac implements the Jacobian sparsity prototype and its
// evaluation (C4): a symbolic pass over the topology lists which state
// entries depend on which basin storages, compressed into a sparse
// pattern over state x state space; the pattern is then filled either by
// forward-mode dual-number AD or by finite differences (spec.md §4.4).
package jac

import (
	"sort"

	"github.com/cpmech/gosl/la"

	"github.com/ribasim/ribasim-go/state"
)

// Prototype is the compressed Boolean sparsity pattern: for each nonzero
// row, the sorted list of columns it depends on (spec.md §4.4 "a connector's
// state depends on at most two basins: its upstream and downstream").
type Prototype struct {
	N    int
	Rows map[int][]int
	NNZ  int
}

// Build derives the prototype by retracing which state columns contribute
// to which basin's storage, the same dependency F (state.FlowToStorage)
// encodes: an edge's cumulative-flow row depends on every state column
// that contributes to the storage of its upstream or downstream basin; a
// basin's evaporation/infiltration row depends only on columns
// contributing to its own storage.
func Build(layout *state.Layout) *Prototype {
	colsOfBasin := make(map[int][]int, len(layout.Basins))
	for _, slot := range layout.EdgeState {
		e := slot.Edge
		if idx, ok := layout.BasinIdx[e.To]; ok {
			colsOfBasin[idx] = append(colsOfBasin[idx], slot.Index)
		}
		for _, b := range e.BasinPath {
			if idx, ok := layout.BasinIdx[b]; ok && b != e.To {
				colsOfBasin[idx] = append(colsOfBasin[idx], slot.Index)
			}
		}
		for _, b := range slot.UpstreamBasins {
			if idx, ok := layout.BasinIdx[b]; ok {
				colsOfBasin[idx] = append(colsOfBasin[idx], slot.Index)
			}
		}
	}
	for i := range layout.Basins {
		colsOfBasin[i] = append(colsOfBasin[i],
			layout.Precipitation.Start+i, layout.Drainage.Start+i,
			layout.Evaporation.Start+i, layout.Infiltration.Start+i)
	}

	p := &Prototype{N: layout.N, Rows: make(map[int][]int)}

	for i := range layout.Basins {
		// Drainage is pure forcing (no state dependence); precipitation
		// depends on storage through area(level), and evaporation/infiltration
		// through area(level) and the low-storage reduction factor, same as
		// every edge-state row below.
		p.addRow(layout.Precipitation.Start+i, colsOfBasin[i])
		p.addRow(layout.Evaporation.Start+i, colsOfBasin[i])
		p.addRow(layout.Infiltration.Start+i, colsOfBasin[i])
	}

	for _, slot := range layout.EdgeState {
		e := slot.Edge
		var cols []int
		for _, b := range slot.UpstreamBasins {
			if idx, ok := layout.BasinIdx[b]; ok {
				cols = append(cols, colsOfBasin[idx]...)
			}
		}
		if idx, ok := layout.BasinIdx[e.To]; ok {
			cols = append(cols, colsOfBasin[idx]...)
		}
		for _, b := range e.BasinPath {
			if idx, ok := layout.BasinIdx[b]; ok {
				cols = append(cols, colsOfBasin[idx]...)
			}
		}
		p.addRow(slot.Index, cols)
	}
	return p
}

func (p *Prototype) addRow(row int, cols []int) {
	if len(cols) == 0 {
		return
	}
	seen := make(map[int]struct{}, len(cols))
	uniq := cols[:0:0]
	for _, c := range cols {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		uniq = append(uniq, c)
	}
	sort.Ints(uniq)
	p.Rows[row] = uniq
	p.NNZ += len(uniq)
}

// ToTriplet allocates an la.Triplet sized for the pattern's nonzero count,
// ready for the evaluator to Put into (spec.md §9's "compressed to a
// sparse pattern" is a Boolean mask; the CCMatrix built from it carries
// actual derivative values).
func (p *Prototype) ToTriplet() *la.Triplet {
	t := new(la.Triplet)
	t.Init(p.N, p.N, p.NNZ)
	return t
}
