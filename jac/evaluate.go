package jac

import (
	"github.com/cpmech/gosl/la"
	"github.com/cpmech/gosl/num"

	"github.com/ribasim/ribasim-go/node"
	"github.com/ribasim/ribasim-go/state"
)

// Evaluator fills a Prototype's nonzero pattern with derivative values at a
// given (t, u) point: the analytic Dual derivative where a connector
// implements it (spec.md §4.4 forward-mode AD), finite differences
// otherwise.
type Evaluator struct {
	RHS       *state.RHS
	Layout    *state.Layout
	FlowToStg *state.FlowToStorage
	Proto     *Prototype
	UseAD     bool // mirrors inp.SolverConfig.AutoDiff

	rowEdge map[int]*state.EdgeSlot // edge-state rows, keyed by row index
	du      []float64               // scratch RHS output buffer
}

func NewEvaluator(rhs *state.RHS, layout *state.Layout, ftos *state.FlowToStorage, proto *Prototype, useAD bool) *Evaluator {
	e := &Evaluator{
		RHS: rhs, Layout: layout, FlowToStg: ftos, Proto: proto, UseAD: useAD,
		rowEdge: make(map[int]*state.EdgeSlot, len(layout.EdgeState)),
		du:      make([]float64, layout.N),
	}
	for _, slot := range layout.EdgeState {
		e.rowEdge[slot.Index] = slot
	}
	return e
}

// Eval computes J[row,col] = d(du[row])/d(u[col]) at every (row,col) the
// prototype marks nonzero, returning a filled Triplet ready for
// la.CCMatrix assembly (spec.md §4.4).
func (e *Evaluator) Eval(t float64, u []float64, s0 []float64) (*la.Triplet, error) {
	t3 := e.Proto.ToTriplet()
	storages := e.RHS.BasinStorages(u, s0, e.FlowToStg)

	for row, cols := range e.Proto.Rows {
		slot := e.rowEdge[row]
		var dc node.DualConnector
		if e.UseAD && slot != nil {
			dc, _ = e.RHS.Connector[slot.Edge.From].(node.DualConnector)
		}
		for _, col := range cols {
			var d float64
			if dc != nil {
				d = e.analyticEntry(dc, slot, col, storages)
			} else {
				d = e.fdEntry(t, u, s0, row, col)
			}
			if d != 0 {
				t3.Put(row, col, d)
			}
		}
	}
	return t3, nil
}

// analyticEntry differentiates a connector's flow law with respect to
// u[col] by seeding whichever of h_up/h_down/s_up column col feeds, using
// F's known {-1,0,+1} coefficient (the same sign state.BuildFlowToStorage
// assigns) composed with the basin profile's local dlevel/dstorage slope.
func (e *Evaluator) analyticEntry(dc node.DualConnector, slot *state.EdgeSlot, col int, storages []float64) float64 {
	hUp, hDown, sUp := node.ConstDual(0), node.ConstDual(0), node.ConstDual(state.EpsLargeStorage)

	if idx, ok := e.upstreamBasinIdx(slot); ok {
		bp := e.RHS.Model.Params.Basin[slot.UpstreamBasins[0]]
		level := bp.Profile.LevelAt(storages[idx])
		hUp = node.Dual{V: level, D: e.fCoeff(idx, col) * bp.Profile.SlopeAt(storages[idx])}
		sUp = node.Dual{V: storages[idx], D: e.fCoeff(idx, col)}
	}
	if idx, ok := e.Layout.BasinIdx[slot.Edge.To]; ok {
		bp := e.RHS.Model.Params.Basin[slot.Edge.To]
		level := bp.Profile.LevelAt(storages[idx])
		hDown = node.Dual{V: level, D: e.fCoeff(idx, col) * bp.Profile.SlopeAt(storages[idx])}
	}

	d := dc.FlowDual(node.DualInputs{HUp: hUp, HDown: hDown, SUp: sUp})
	return d.D
}

// upstreamBasinIdx returns the layout index of the connector's nearest
// upstream basin, if any (a connector fed directly by a boundary has none).
func (e *Evaluator) upstreamBasinIdx(slot *state.EdgeSlot) (int, bool) {
	if len(slot.UpstreamBasins) == 0 {
		return 0, false
	}
	idx, ok := e.Layout.BasinIdx[slot.UpstreamBasins[0]]
	return idx, ok
}

// fCoeff reproduces the {-1,0,+1} sign state.BuildFlowToStorage assigns to
// (basinIdx, col): +1 if col is an edge whose downstream side reaches the
// basin, -1 if col is an edge whose resolved upstream basin is it, or is
// the basin's own evaporation/infiltration column.
func (e *Evaluator) fCoeff(basinIdx, col int) float64 {
	basinID := e.Layout.Basins[basinIdx]
	if col == e.Layout.Precipitation.Start+basinIdx || col == e.Layout.Drainage.Start+basinIdx {
		return 1
	}
	if col == e.Layout.Evaporation.Start+basinIdx || col == e.Layout.Infiltration.Start+basinIdx {
		return -1
	}
	if slot, ok := e.rowEdge[col]; ok {
		edge := slot.Edge
		if edge.To == basinID {
			return 1
		}
		for _, b := range edge.BasinPath {
			if b == basinID && b != edge.To {
				return 1
			}
		}
		for _, b := range slot.UpstreamBasins {
			if b == basinID {
				return -1
			}
		}
	}
	return 0
}

// fdEntry computes one Jacobian entry by central-difference perturbation
// of the full RHS (spec.md §4.4 "or by finite differences"), grounded in
// the teacher's num.DerivCen usage for checking tangents (msolid/driver.go).
func (e *Evaluator) fdEntry(t float64, u, s0 []float64, row, col int) float64 {
	f := func(x float64, args ...interface{}) float64 {
		saved := u[col]
		u[col] = x
		s := e.RHS.BasinStorages(u, s0, e.FlowToStg)
		e.RHS.Eval(t, u, s, e.du)
		u[col] = saved
		return e.du[row]
	}
	return num.DerivCen(f, u[col])
}
