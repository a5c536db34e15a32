// Package callback implements the integrator driver's periodic callback
// dispatcher (C6): it owns the solver.Driver and walks it from t0 to the
// model's end time, invoking every other component in the fixed order
// spec.md §4.6 names -- "forcings, discrete control, allocation, PID, RHS
// continues, save" -- at each scheduled boundary, grounded on the teacher's
// main simulation loop shape (fem/domain.go's solve-then-callback pattern,
// generalized here to several independently-paced callback kinds instead
// of one).
package callback

import (
	"math"
	"sort"

	"github.com/ribasim/ribasim-go/accounting"
	"github.com/ribasim/ribasim-go/allocation"
	"github.com/ribasim/ribasim-go/control"
	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/internal/rlog"
	"github.com/ribasim/ribasim-go/jac"
	"github.com/ribasim/ribasim-go/solver"
	"github.com/ribasim/ribasim-go/state"
)

// Scheduler drives one simulation from t0 to tEnd.
type Scheduler struct {
	Model     *inp.Model
	Layout    *state.Layout
	FlowToStg *state.FlowToStorage
	Driver    *solver.Driver

	Discrete   *control.Discrete
	Continuous *control.Continuous
	Pid        *control.Pid
	Ledger     *accounting.Ledger

	saveEvery  float64
	allocEvery float64
	nextSave   float64
	nextAlloc  float64
	tEnd       float64

	allocPrevT float64
	allocPrevU []float64

	Snapshots []TimeSnapshot
	Events    []control.DiscreteEvent
}

// TimeSnapshot bundles one save-time record (spec.md §4.6 "Save").
type TimeSnapshot struct {
	T    float64
	Rows []accounting.Snapshot
}

// New constructs a Scheduler at t0, sizing the state layout and wiring the
// PID integral-state derivative back into the ODE driver (spec.md §4.8
// "the integral term is integrated in-place as an extra state").
func New(m *inp.Model, t0, tEnd float64) *Scheduler {
	layout := state.BuildLayout(m.Registry, control.SortedPidNodes(m))
	ftos := state.BuildFlowToStorage(m.Registry, layout)
	rhs := state.NewRHS(m, layout)
	proto := jac.Build(layout)

	s0 := make([]float64, len(layout.Basins))
	for i, id := range layout.Basins {
		bp := m.Params.Basin[id]
		s0[i] = bp.Profile.StorageAt(bp.InitialLevel)
	}

	drv := solver.NewDriver(&m.Config.Solver, rhs, layout, ftos, proto, s0, t0)

	sc := &Scheduler{
		Model: m, Layout: layout, FlowToStg: ftos, Driver: drv,
		Discrete: control.NewDiscrete(m), Continuous: control.NewContinuous(m), Pid: control.NewPid(m),
		Ledger: accounting.NewLedger(m, layout, ftos, t0, drv.U, drv.Storages()),

		saveEvery: m.Config.Solver.SaveAt, allocEvery: m.Config.Allocation.Timestep,
		nextSave: t0 + m.Config.Solver.SaveAt, nextAlloc: t0 + m.Config.Allocation.Timestep,
		tEnd: tEnd,

		allocPrevT: t0, allocPrevU: append([]float64(nil), drv.U...),
	}
	drv.ExtraDeriv = sc.pidDeriv
	return sc
}

// pidDeriv fills every PidControl node's integral-state derivative entry
// (spec.md §4.6, §4.8): wired as solver.Driver.ExtraDeriv so it runs inside
// every Newton-stage RHS evaluation, not just at callback boundaries.
func (sc *Scheduler) pidDeriv(t float64, u, s, du []float64) {
	if len(sc.Layout.PidNodes) == 0 {
		return
	}
	sig := &control.Signals{Model: sc.Model, Layout: sc.Layout, Storages: s}
	for i, id := range sc.Layout.PidNodes {
		du[sc.Layout.PidIntegral.Start+i] = sc.Pid.IntegralDeriv(sig, id, t)
	}
}

// Run advances the simulation to completion, dispatching discrete control,
// allocation and continuous/PID writeback at each scheduled boundary and
// saving at every save_at multiple (spec.md §4.6). It returns once
// sc.Driver.T reaches tEnd.
func (sc *Scheduler) Run() error {
	// Run every callback once at t0 so the first step sees already-patched
	// control state (spec.md §4.6 "at t0, run every callback once before
	// the first step").
	sc.dispatch(sc.Driver.T)

	for sc.Driver.T < sc.tEnd {
		if err := sc.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step advances the simulation by one callback boundary, the unit of
// progress bmi.Model.Update exposes (spec.md §5 "update").
func (sc *Scheduler) Step() error {
	next := sc.nextBoundary()
	if err := sc.Driver.AdvanceTo(next); err != nil {
		return err
	}
	sc.dispatch(sc.Driver.T)
	return nil
}

// StepTo advances the simulation to exactly t, which must not exceed the
// next scheduled boundary by more than a single call -- bmi.Model.UpdateUntil
// loops calling this with t clamped to the boundary until it reaches its
// target (spec.md §5 "update_until(t)").
func (sc *Scheduler) StepTo(t float64) error {
	next := sc.nextBoundary()
	if t < next {
		next = t
	}
	if err := sc.Driver.AdvanceTo(next); err != nil {
		return err
	}
	sc.dispatch(sc.Driver.T)
	return nil
}

// nextBoundary returns the nearest of the next save, next allocation, or
// the simulation end, the solver's step never overruns a callback point.
func (sc *Scheduler) nextBoundary() float64 {
	next := sc.tEnd
	if sc.nextSave < next {
		next = sc.nextSave
	}
	if sc.allocEvery > 0 && sc.nextAlloc < next {
		next = sc.nextAlloc
	}
	return next
}

// dispatch runs every due callback in spec.md §4.6's fixed order: forcings
// are read lazily by RHS.Eval itself (no separate refresh step needed since
// every *TimeSeries is evaluated at the query time it is given), so the
// ordering below starts at discrete control.
func (sc *Scheduler) dispatch(t float64) {
	storages := sc.Driver.Storages()
	sig := &control.Signals{Model: sc.Model, Layout: sc.Layout, Storages: storages}

	events := sc.Discrete.Step(sig, t)
	sc.Events = append(sc.Events, events...)

	if sc.allocEvery > 0 && t >= sc.nextAlloc-1e-9 {
		sc.runAllocation(t, storages)
		sc.nextAlloc += sc.allocEvery
	}

	sc.Continuous.Step(sig, t)
	sc.writebackPidOutputs(sig, t)

	if t >= sc.nextSave-1e-9 {
		rows := sc.Ledger.Save(t, sc.Driver.U, storages)
		for _, row := range rows {
			if accounting.Flagged(row, &sc.Model.Config.Solver) {
				rlog.Warn("accounting: basin %s water balance error %g exceeds tolerance at t=%g", row.Basin, row.BalanceError, t)
			}
		}
		sc.Snapshots = append(sc.Snapshots, TimeSnapshot{T: t, Rows: rows})
		sc.nextSave += sc.saveEvery
	}
}

// writebackPidOutputs evaluates each PID loop's clamped output and writes
// it to the target's flow_rate (spec.md §4.8); the derivative term reads
// the basin's current dlevel/dt off one fresh RHS evaluation.
func (sc *Scheduler) writebackPidOutputs(sig *control.Signals, t float64) {
	if len(sc.Layout.PidNodes) == 0 {
		return
	}
	du := make([]float64, sc.Layout.N)
	if err := sc.Driver.RHS.Eval(t, sc.Driver.U, sig.Storages, du); err != nil {
		rlog.Warn("callback: PID derivative RHS evaluation failed at t=%g: %v", t, err)
		return
	}
	dS := sc.FlowToStg.Project(du)

	for i, id := range sc.Layout.PidNodes {
		cfg := sc.Model.Params.PidControl[id]
		integral := sc.Driver.U[sc.Layout.PidIntegral.Start+i]
		var dlevelDt float64
		if idx, ok := sc.Layout.BasinIdx[cfg.Listen]; ok {
			dlevelDt = sig.LevelDeriv(cfg.Listen, dS[idx])
		}
		sc.Pid.Output(sig, id, t, integral, dlevelDt)
	}
}

// runAllocation rebuilds and solves every subnetwork's LP (spec.md §4.7),
// then writes the resulting flow rates back onto their controlled Cells.
// Secondary subnetworks are coupled to the primary (id 1, if present) in
// three passes -- demand collection, primary solve, final secondary re-solve
// -- rather than one independent solve each (spec.md §4.7 "secondary
// subnetworks add their own demand to the primary's problem"); subnetworks
// are otherwise processed in sorted order for determinism.
func (sc *Scheduler) runAllocation(t float64, storages []float64) {
	subs := append([]int(nil), sc.Model.Registry.SubnetworkIDs()...)
	sort.Ints(subs)
	netForcing := sc.netForcing(t, storages)

	var secondaries []int
	primary := -1
	for _, sub := range subs {
		if sub == 1 {
			primary = sub
		} else {
			secondaries = append(secondaries, sub)
		}
	}

	// Phase 1: demand collection. Every secondary is solved once with its
	// inflow from the primary relaxed to infinite capacity, so its LP
	// reports the inflow it actually wants rather than one capped by
	// whatever the primary happens to grant.
	collectedNet := map[int]*allocation.Network{}
	collectedRes := map[int]*allocation.Result{}
	for _, sub := range secondaries {
		net := sc.buildSubnetwork(sub, t, storages, netForcing, math.Inf(1))
		collectedNet[sub] = net
		collectedRes[sub] = allocation.Run(sc.Model, net, t)
	}

	// Phase 2: the primary solves its own problem with each secondary's
	// collected demand injected as a pseudo-demand on the coupling edge, at
	// the secondary's earliest priority (see allocation.CouplingDemandEntry).
	var primaryRes *allocation.Result
	if primary > 0 {
		primaryNet := sc.buildSubnetwork(primary, t, storages, netForcing, 0)
		for _, sub := range secondaries {
			net := collectedNet[sub]
			if net.CouplingIn < 0 {
				continue
			}
			edge := net.CouplingEdge()
			if edge == nil {
				continue
			}
			flowIdx, ok := primaryNet.FlowVarIndex(edge.From)
			if !ok {
				continue
			}
			priority := earliestPriority(sc.Model, sub)
			primaryNet.CouplingDemand[flowIdx] = allocation.CouplingDemandEntry{
				Demand: collectedRes[sub].EdgeFlow[edge.ID], Priority: priority,
			}
		}
		primaryRes = allocation.Run(sc.Model, primaryNet, t)
		sc.writebackAllocation(primary, primaryRes)
	}

	// Phase 3: each secondary re-solves with its coupling inflow capped to
	// what the primary actually granted on that edge.
	for _, sub := range secondaries {
		net := collectedNet[sub]
		res := collectedRes[sub]
		if net.CouplingIn >= 0 && primaryRes != nil {
			if edge := net.CouplingEdge(); edge != nil {
				cap := primaryRes.EdgeFlow[edge.ID]
				net = sc.buildSubnetwork(sub, t, storages, netForcing, cap)
				res = allocation.Run(sc.Model, net, t)
			}
		}
		sc.writebackAllocation(sub, res)
	}

	sc.allocPrevT = t
	sc.allocPrevU = append(sc.allocPrevU[:0], sc.Driver.U...)
}

// buildSubnetwork runs allocation.PreCheck and allocation.Build for one
// subnetwork, the common prelude every phase of runAllocation needs.
func (sc *Scheduler) buildSubnetwork(sub int, t float64, storages []float64, netForcing func(graph.NodeID) float64, inflowCap float64) *allocation.Network {
	edgeOf := map[int]*state.EdgeSlot{}
	idx := 0
	for _, slot := range sc.Layout.EdgeState {
		if slot.Edge.From.Subnetwork == sub {
			edgeOf[idx] = slot
			idx++
		}
	}
	allocation.PreCheck(sc.Model, sub, edgeOf)
	return allocation.Build(sc.Model, sc.Layout, sub, sc.allocEvery, storages, netForcing, t, inflowCap)
}

func (sc *Scheduler) writebackAllocation(sub int, res *allocation.Result) {
	for _, name := range res.Infeasible {
		rlog.Warn("allocation: subnetwork %d constraint %q could not be satisfied", sub, name)
	}
	for id, rate := range res.FlowRate {
		control.WriteControlledFlowRate(sc.Model, id, rate)
	}
}

// earliestPriority returns the smallest UserDemand demand_priority present
// in a subnetwork, the priority a secondary's aggregate collected demand
// competes at on the primary (spec.md §4.7 coupling, a deliberate
// simplification recorded in DESIGN.md rather than decomposing the
// secondary's demand per priority).
func earliestPriority(m *inp.Model, sub int) int {
	best := 0
	for id, dp := range m.Params.UserDemand {
		if id.Subnetwork != sub {
			continue
		}
		for p := range dp.DemandByPriority {
			if best == 0 || p < best {
				best = p
			}
		}
	}
	return best
}

// netForcing returns a per-basin mean precipitation+drainage-evaporation
// -infiltration rate since the previous allocation step, by differencing
// the cumulative state entries C9 also differences (spec.md §4.7 step 2
// "Read cumulative boundary volumes and forcing volumes accumulated... since
// the last allocation step").
func (sc *Scheduler) netForcing(t float64, storages []float64) func(graph.NodeID) float64 {
	dt := t - sc.allocPrevT
	rates := make(map[graph.NodeID]float64, len(sc.Layout.Basins))
	if dt <= 0 {
		return func(graph.NodeID) float64 { return 0 }
	}
	u := sc.Driver.U
	for i, id := range sc.Layout.Basins {
		precip := u[sc.Layout.Precipitation.Start+i] - sc.allocPrevU[sc.Layout.Precipitation.Start+i]
		drain := u[sc.Layout.Drainage.Start+i] - sc.allocPrevU[sc.Layout.Drainage.Start+i]
		evap := u[sc.Layout.Evaporation.Start+i] - sc.allocPrevU[sc.Layout.Evaporation.Start+i]
		infil := u[sc.Layout.Infiltration.Start+i] - sc.allocPrevU[sc.Layout.Infiltration.Start+i]
		rates[id] = (precip + drain - evap - infil) / dt
	}
	return func(id graph.NodeID) float64 { return rates[id] }
}
