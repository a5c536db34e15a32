// Package control implements the control layer (C8): DiscreteControl's
// threshold/hysteresis state machine, ContinuousControl's piecewise-linear
// writeback, and PidControl's integral/derivative-extended loop (spec.md
// §4.8). All three read the same named-variable signals off the current
// simulation state, grounded in the teacher's habit of keeping evaluation
// logic as small, composable value readers (mdl/retention reads a single
// state field the same way).
package control

import (
	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/state"
)

// Signals resolves a (node, variable) pair to its current value, the
// shared read surface every control type's sub-variables draw from.
type Signals struct {
	Model    *inp.Model
	Layout   *state.Layout
	Storages []float64 // current basin storages, Layout.Basins order
}

// Value implements spec.md §4.8's sub-variable lookup for the variable
// names the data model exposes a listenable signal for: "level" and
// "storage" off a Basin, "flow_rate" off a Pump/Outlet, "flow" off a
// FlowBoundary. LookAhead forecasts a *TimeSeries-backed signal by adding
// the offset to t; state-derived signals (level, storage) ignore it, since
// they have no future value until the solver has integrated that far.
func (s *Signals) Value(id graph.NodeID, variable string, t, lookAhead float64) float64 {
	switch variable {
	case "level":
		if idx, ok := s.Layout.BasinIdx[id]; ok {
			bp := s.Model.Params.Basin[id]
			return bp.Profile.LevelAt(s.Storages[idx])
		}
		if lb, ok := s.Model.Params.LevelBoundary[id]; ok {
			return lb.Level.At(t + lookAhead)
		}
	case "storage":
		if idx, ok := s.Layout.BasinIdx[id]; ok {
			return s.Storages[idx]
		}
	case "flow_rate":
		if p, ok := s.Model.Params.Pump[id]; ok {
			return p.FlowRate.Get(t)
		}
		if o, ok := s.Model.Params.Outlet[id]; ok {
			return o.FlowRate.Get(t)
		}
	case "flow":
		if fb, ok := s.Model.Params.FlowBoundary[id]; ok {
			return fb.Flow.At(t + lookAhead)
		}
	}
	chk.Panic("control: unresolvable signal variable %q on node %s", variable, id)
	return 0
}

// Compound evaluates a weighted sum of sub-variables (spec.md §4.8 "the
// compound variable's value is the weighted sum of its sub-variables").
func (s *Signals) Compound(subs []inp.SubVariable, t float64) float64 {
	var v float64
	for _, sv := range subs {
		v += sv.Weight * s.Value(sv.ListenNodeID, sv.Variable, t, sv.LookAhead)
	}
	return v
}

// LevelDeriv converts a basin's ds/dt into dlevel/dt via the profile's local
// slope, the same linearization jac.Evaluator uses for its analytic
// Jacobian entries (spec.md §4.8's PID derivative term reads dlevel/dt).
func (s *Signals) LevelDeriv(id graph.NodeID, dsdt float64) float64 {
	idx, ok := s.Layout.BasinIdx[id]
	if !ok {
		return 0
	}
	bp := s.Model.Params.Basin[id]
	return dsdt * bp.Profile.SlopeAt(s.Storages[idx])
}
