package state

import (
	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/node"
)

// RHS assembles the right-hand side of the ODE system (spec.md §4.2
// steps 1-5): it snapshots basin levels from the cumulative state,
// evaluates every connector's flow law, and writes evaporation and
// infiltration derivative entries.
type RHS struct {
	Model     *inp.Model
	Layout    *Layout
	Connector map[graph.NodeID]node.Connector

	// cache, rebuilt once per call: basin storages and levels at the
	// current state vector.
	storages []float64
	levels   []float64
}

// NewRHS constructs connectors for every registered node and wires them to
// the layout (spec.md §4.2 "Computes current basin levels via profile
// inversion" happens per-call in Eval, not here).
func NewRHS(m *inp.Model, layout *Layout) *RHS {
	r := &RHS{Model: m, Layout: layout, Connector: map[graph.NodeID]node.Connector{}}
	for t := range m.Params.LinearResistance {
		r.Connector[t] = node.New(t, m.Params)
	}
	for t := range m.Params.ManningResistance {
		r.Connector[t] = node.New(t, m.Params)
	}
	for t := range m.Params.TabulatedRatingCurve {
		r.Connector[t] = node.New(t, m.Params)
	}
	for t := range m.Params.Pump {
		r.Connector[t] = node.New(t, m.Params)
	}
	for t := range m.Params.Outlet {
		r.Connector[t] = node.New(t, m.Params)
	}
	for t := range m.Params.FlowBoundary {
		r.Connector[t] = node.New(t, m.Params)
	}
	r.storages = make([]float64, len(layout.Basins))
	r.levels = make([]float64, len(layout.Basins))
	return r
}

// BasinStorages recovers S_i(t) = S_i(t0) + Σ cumulative inflow state - Σ
// cumulative outflow state + cumulative precip + cumulative drainage -
// cumulative evap - cumulative infil, matching
// spec.md §4.2 step 1. Initial storages are tracked separately by the
// integrator driver (solver.Driver) and passed in at Eval time because the
// cumulative-flow formulation (spec.md §4.2's "lets the solver track mass
// exactly") only ever integrates *changes* in storage.
func (r *RHS) BasinStorages(u []float64, s0 []float64, ftos *FlowToStorage) []float64 {
	du := make([]float64, len(s0))
	// storages are s0 plus the net of all cumulative state entries the
	// flow-to-storage matrix attributes to each basin; since u IS the
	// cumulative integral (not its derivative), F*u directly gives the net
	// accumulated volume change since t0.
	netAccum := ftos.Project(u)
	for i := range s0 {
		du[i] = s0[i] + netAccum[i]
	}
	return du
}

// Eval computes du/dt given the current cumulative state u, the tracked
// basin storages s (already recovered via BasinStorages), and time t
// (spec.md §4.2 steps 2-5).
func (r *RHS) Eval(t float64, u []float64, s []float64, du []float64) error {
	for i, id := range r.Layout.Basins {
		r.storages[i] = s[i]
		bp := r.Model.Params.Basin[id]
		r.levels[i] = bp.Profile.LevelAt(s[i])
	}

	for _, slot := range r.Layout.EdgeState {
		e := slot.Edge
		conn, ok := r.Connector[e.From]
		if !ok || conn == nil {
			continue
		}
		var hUp, sUp float64
		if slot.HasUpstream {
			hUp = r.headAt(slot.Upstream, t)
			sUp = r.storageAt(slot.Upstream)
		} else {
			sUp = EpsLargeStorage
		}
		hDown := r.headAt(e.To, t)
		q := conn.Flow(node.Inputs{T: t, HUp: hUp, HDown: hDown, SUp: sUp})
		du[slot.Index] = q
	}

	for i, id := range r.Layout.Basins {
		bp := r.Model.Params.Basin[id]
		area := bp.Profile.AreaAt(r.levels[i])
		du[r.Layout.Precipitation.Start+i] = area * bp.Precipitation.At(t)
		du[r.Layout.Drainage.Start+i] = bp.Drainage.At(t)
		evapRate := area * bp.PotentialEvap.At(t)
		du[r.Layout.Evaporation.Start+i] = evapRate * node.Reduction(r.storages[i], bp.LowStorageEps)
		infilRate := bp.Infiltration.At(t)
		du[r.Layout.Infiltration.Start+i] = infilRate * node.Reduction(r.storages[i], bp.LowStorageEps)
	}
	return nil
}

// headAt returns the current water level at a node: a basin's interpolated
// level, a LevelBoundary's scheduled level, or 0 for flow-only nodes whose
// formula does not consume a head (Pump/Outlet read storage, not level,
// from their own end; their formula only needs h_up for Outlet's gate).
func (r *RHS) headAt(id graph.NodeID, t float64) float64 {
	if idx, ok := r.Layout.BasinIdx[id]; ok {
		return r.levels[idx]
	}
	if lb, ok := r.Model.Params.LevelBoundary[id]; ok {
		return lb.Level.At(t)
	}
	return 0
}

func (r *RHS) storageAt(id graph.NodeID) float64 {
	if idx, ok := r.Layout.BasinIdx[id]; ok {
		return r.storages[idx]
	}
	// Non-basin upstream nodes (e.g. a FlowBoundary feeding a Pump) are
	// always considered to have ample storage.
	return EpsLargeStorage
}

// EpsLargeStorage is used as a stand-in "abundant storage" value for
// connectors whose upstream node is not a Basin.
const EpsLargeStorage = 1e9
