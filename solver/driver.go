// Package solver implements the adaptive implicit ODE integrator driver
// (C5): it wraps gosl/ode.Solver's stiff implicit Radau5 stepper, advances the
// state vector from one scheduled callback boundary to the next, and
// projects every accepted step back into the physically admissible set
// (spec.md §4.5).
package solver

import (
	"sort"

	"github.com/cpmech/gosl/chk"
	"github.com/cpmech/gosl/la"
	"github.com/cpmech/gosl/ode"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/internal/rlog"
	"github.com/ribasim/ribasim-go/jac"
	"github.com/ribasim/ribasim-go/state"
)

// DtLessThanMin is returned when the step size falls below the
// configuration's dtmin (spec.md §4.5 failure modes).
type DtLessThanMin struct {
	T       float64
	Reason  string
	Basins  []BottleneckBasin
}

func (e *DtLessThanMin) Error() string {
	return chk.Err("solver: dt fell below dtmin at t=%g: %s", e.T, e.Reason).Error()
}

// BottleneckBasin names a basin whose storage changed most near a failed
// step, logged as a diagnostic aid (spec.md §4.5).
type BottleneckBasin struct {
	Index int
	Delta float64
}

// Driver owns the state vector and advances it through time, consuming the
// RHS (state.RHS), the Jacobian prototype (jac.Prototype/Evaluator), an
// initial state, and the solver configuration (spec.md §4.5).
type Driver struct {
	Cfg       *inp.SolverConfig
	RHS       *state.RHS
	Layout    *state.Layout
	FlowToStg *state.FlowToStorage
	Evaluator *jac.Evaluator

	// ExtraDeriv, if set, is invoked after the RHS is evaluated at every
	// solver stage with that stage's storages already recovered, so callers
	// (the callback package's PID loop) can fill derivative entries that
	// depend on the full current state without state importing control.
	ExtraDeriv func(t float64, u, s, du []float64)

	T  float64
	U  []float64 // cumulative-flow state vector, accumulated since t0
	S0 []float64 // basin storages at t0, fixed for the driver's lifetime

	lastDt float64
}

// NewDriver constructs a driver at t0 with zeroed cumulative state and the
// given initial basin storages (spec.md §4.2 "S_i(t0)").
func NewDriver(cfg *inp.SolverConfig, rhs *state.RHS, layout *state.Layout, ftos *state.FlowToStorage, proto *jac.Prototype, s0 []float64, t0 float64) *Driver {
	return &Driver{
		Cfg: cfg, RHS: rhs, Layout: layout, FlowToStg: ftos,
		Evaluator: jac.NewEvaluator(rhs, layout, ftos, proto, cfg.AutoDiff),
		T:         t0, U: make([]float64, layout.N), S0: append([]float64(nil), s0...),
		lastDt: cfg.Dt,
	}
}

// Storages returns the basin storages implied by the current cumulative
// state, in Layout.Basins order.
func (d *Driver) Storages() []float64 {
	return d.RHS.BasinStorages(d.U, d.S0, d.FlowToStg)
}

// AdvanceTo integrates from d.T to tNext using a stiff implicit method
// (Radau5, see goslAlgorithm; spec.md §4.5), then applies the step limiter
// and commits the new cumulative state U; S0 stays the t0 baseline.
func (d *Driver) AdvanceTo(tNext float64) error {
	if tNext <= d.T {
		return nil
	}

	fcn := func(f []float64, dx, x float64, y []float64) error {
		s := d.RHS.BasinStorages(y, d.S0, d.FlowToStg)
		if err := d.RHS.Eval(x, y, s, f); err != nil {
			return err
		}
		if d.ExtraDeriv != nil {
			d.ExtraDeriv(x, y, s, f)
		}
		return nil
	}
	jacfn := func(dfdy *la.Triplet, dx, x float64, y []float64) error {
		t3, err := d.Evaluator.Eval(x, y, d.S0)
		if err != nil {
			return err
		}
		*dfdy = *t3
		return nil
	}

	var odesol ode.Solver
	odesol.Init(goslAlgorithm(d.Cfg.Algorithm), len(d.U), fcn, jacfn, nil, nil)
	odesol.SetTol(d.Cfg.AbsTol, d.Cfg.RelTol)
	odesol.Distr = false

	dx := d.lastDt
	if dx <= 0 {
		dx = tNext - d.T
	}
	if d.Cfg.DtMax > 0 && dx > d.Cfg.DtMax {
		dx = d.Cfg.DtMax
	}

	y := append([]float64(nil), d.U...)
	if err := odesol.Solve(y, d.T, tNext, dx, false); err != nil {
		if dx < d.Cfg.DtMin || d.Cfg.ForceDtMin {
			return &DtLessThanMin{T: d.T, Reason: err.Error(), Basins: d.bottlenecks(y)}
		}
		return err
	}

	d.limitStep(y)
	d.U = y
	d.T = tNext
	d.lastDt = dx
	return nil
}

// limitStep projects an accepted step back into the physically admissible
// set (spec.md §4.5): cumulative state entries for single-signed connectors
// (pumps, outlets, rating curves, user demand inflow) may never go negative,
// since their flow law never reverses sign; a negative value can only arise
// from solver overshoot near zero flow.
func (d *Driver) limitStep(y []float64) {
	for _, slot := range d.Layout.EdgeState {
		switch slot.Edge.From.Type {
		case graph.Pump, graph.Outlet, graph.TabulatedRatingCurve, graph.UserDemand:
			if y[slot.Index] < d.U[slot.Index] {
				rlog.Debug("solver: clamping cumulative state %s from %g to %g at t=%g", slot.Edge.ID, y[slot.Index], d.U[slot.Index], d.T)
				y[slot.Index] = d.U[slot.Index]
			}
		}
	}
	s := d.RHS.BasinStorages(y, d.S0, d.FlowToStg)
	for i, v := range s {
		if v < 0 {
			rlog.Debug("solver: basin %d storage went negative (%g) at t=%g", i, v, d.T)
		}
	}
}

// bottlenecks returns the basins whose storage changed most since the last
// accepted step, logged with the DtLessThanMin failure (spec.md §4.5
// "convergence bottlenecks").
func (d *Driver) bottlenecks(yAttempted []float64) []BottleneckBasin {
	sOld := d.Storages()
	sNew := d.RHS.BasinStorages(yAttempted, d.S0, d.FlowToStg)
	out := make([]BottleneckBasin, len(sOld))
	for i := range sOld {
		out[i] = BottleneckBasin{Index: i, Delta: absf(sNew[i] - sOld[i])}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Delta > out[j].Delta })
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// goslAlgorithm maps the config's solver.algorithm vocabulary (spec.md §6,
// named after the original Julia DifferentialEquations.jl schemes) onto the
// one implicit stiff method gosl/ode actually ships: Radau5, a 3-stage
// Runge-Kutta of order 5 with embedded error estimation, confirmed via the
// teacher's mdl/retention/model.go usage. Every config name resolves to it;
// the name is kept in the config purely so results metadata can echo back
// what the user asked for.
func goslAlgorithm(name string) string {
	return "Radau5"
}
