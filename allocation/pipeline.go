package allocation

import (
	"sort"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/internal/rlog"
)

// tieBreakWeight scales the source-priority and route-priority terms
// against the unit-weighted demand-error L1 terms (spec.md §4.7 step 4b):
// small enough that a tie-break never outweighs an actual demand-error
// reduction, large enough to still break ties between otherwise-equal
// solutions.
const tieBreakWeight = 1e-6

// Result is one subnetwork's allocation outcome, ready for writeback
// (spec.md §4.7 step 6).
type Result struct {
	Subnetwork int
	FlowRate   map[graph.NodeID]float64        // per Pump/Outlet in the subnetwork, control-targeted or not
	Allocated  map[graph.NodeID]map[int]float64 // per UserDemand, per priority
	EdgeFlow   map[string]float64               // every varFlow entry, by edge id
	Infeasible []string
}

// Run executes the full per-subnetwork pipeline for one allocation step
// (spec.md §4.7 "Pipeline per subnetwork per allocation step"): demand
// sums and volume conservation are idempotent across priorities (built
// once by Build), so only the priority objective changes each round.
func Run(m *inp.Model, net *Network, t float64) *Result {
	res := &Result{Subnetwork: net.Subnetwork, FlowRate: map[graph.NodeID]float64{}, Allocated: map[graph.NodeID]map[int]float64{}, EdgeFlow: map[string]float64{}}

	priorities := collectPriorities(m, net)
	baseRows := append([]Row(nil), net.Problem.Rows...)
	fixed := make([]Row, 0, len(priorities))

	var sol *Solution
	for _, p := range priorities {
		net.Problem.Obj = map[int]float64{}
		net.Problem.Rows = append(append([]Row(nil), baseRows...), fixed...)

		obj := demandErrorObjective(m, net, p, t)
		addLevelDemandTerms(net, p, &obj)
		addCouplingDemandTerms(net, p, &obj)
		errCoef := make(map[int]float64, len(obj.obj))
		for v, c := range obj.obj {
			errCoef[v] = c
		}
		addTieBreakTerms(m, net, &obj)
		net.Problem.Rows = append(net.Problem.Rows, obj.rows...)
		for v, c := range obj.obj {
			net.Problem.Obj[v] = c
		}

		s, err := net.Problem.Solve()
		if err != nil {
			rlog.Error("allocation: subnetwork %d priority %d failed to solve: %v", net.Subnetwork, p, err)
			continue
		}
		sol = s
		if s.Infeasible {
			res.Infeasible = append(res.Infeasible, s.InfeasibleRows...)
			rlog.Warn("allocation: subnetwork %d priority %d is infeasible, offending rows: %v", net.Subnetwork, p, s.InfeasibleRows)
			continue
		}

		// fix this priority's achieved total error as an equality for every
		// subsequent round (spec.md §4.7 step 4 "goal programming"), together
		// with the rows that define its error variables.
		var achieved float64
		for v, c := range errCoef {
			achieved += c * s.X[v]
		}
		fixRow := Row{Name: "fix_priority", Coef: map[int]float64{}, Sense: EQ, RHS: achieved}
		for v, c := range errCoef {
			fixRow.Coef[v] = c
		}
		fixed = append(fixed, obj.rows...)
		fixed = append(fixed, fixRow)
	}
	if sol == nil {
		return res
	}

	for idx, slot := range net.edgeOf {
		id := slot.Edge.From
		res.EdgeFlow[slot.Edge.ID] = sol.X[idx]
		switch id.Type {
		case graph.Pump, graph.Outlet:
			res.FlowRate[id] = sol.X[idx]
		}
	}
	for v, ref := range net.Vars {
		if ref.Kind == varAllocated {
			if res.Allocated[ref.Node] == nil {
				res.Allocated[ref.Node] = map[int]float64{}
			}
			res.Allocated[ref.Node][ref.Priority] = sol.X[v]
		}
	}
	return res
}

// collectPriorities gathers every demand_priority this subnetwork's
// goal-programming loop must visit: UserDemand priorities, LevelDemand
// priorities, and (on the primary) the priorities its secondaries' collected
// demands compete at (spec.md §4.7 step 4 "goal programming" iterates every
// priority present anywhere in the subnetwork, not just UserDemand's).
func collectPriorities(m *inp.Model, net *Network) []int {
	seen := map[int]bool{}
	for id, dp := range m.Params.UserDemand {
		if id.Subnetwork != net.Subnetwork {
			continue
		}
		for p := range dp.DemandByPriority {
			seen[p] = true
		}
	}
	for _, aux := range net.LevelDemand {
		seen[aux.Priority] = true
	}
	for _, entry := range net.CouplingDemand {
		seen[entry.Priority] = true
	}
	var ps []int
	for p := range seen {
		ps = append(ps, p)
	}
	sort.Ints(ps)
	return ps
}

type objective struct {
	obj  map[int]float64
	rows []Row
}

// demandErrorObjective builds the L1 demand-error expression for one
// priority (spec.md §4.7 step 4a): error = allocated − demand, split into
// nonnegative e+/e- auxiliaries so Σ(e+ + e-) linearizes |error|.
func demandErrorObjective(m *inp.Model, net *Network, priority int, t float64) objective {
	obj := objective{obj: map[int]float64{}}

	for _, id := range sortedUserDemands(m, net.Subnetwork) {
		dp := m.Params.UserDemand[id]
		ts, ok := dp.DemandByPriority[priority]
		if !ok {
			continue
		}
		allocIdx, ok := net.VarIdx[VarRef{Kind: varAllocated, Node: id, Priority: priority}]
		if !ok {
			continue
		}
		demand := ts.At(t)
		plusIdx := net.Problem.AddVar("eplus_"+id.String(), 0, 1e18)
		minusIdx := net.Problem.AddVar("eminus_"+id.String(), 0, 1e18)

		row := Row{Name: "err_" + id.String(), Coef: map[int]float64{allocIdx: 1, plusIdx: -1, minusIdx: 1}, Sense: EQ, RHS: demand}
		obj.rows = append(obj.rows, row)
		obj.obj[plusIdx] = 1
		obj.obj[minusIdx] = 1
	}
	return obj
}

// addLevelDemandTerms folds a basin's level-demand storage-violation error
// variables into the matching priority's objective (spec.md §4.7 "Level
// demand bounds"); the GE rows tying them to the post-allocation storage
// were already added once, at Build time, and persist across every
// priority round via net.Problem's base rows.
func addLevelDemandTerms(net *Network, priority int, obj *objective) {
	for _, b := range sortedBasins(net) {
		aux, ok := net.LevelDemand[b]
		if !ok || aux.Priority != priority {
			continue
		}
		obj.obj[aux.LoErr] = 1
		obj.obj[aux.HiErr] = 1
	}
}

// addCouplingDemandTerms folds a secondary subnetwork's collected inflow
// demand (only ever populated on the primary's Network, see
// callback.Scheduler.runAllocation) into the matching priority's objective
// the same way a UserDemand's error does.
func addCouplingDemandTerms(net *Network, priority int, obj *objective) {
	var idxs []int
	for idx := range net.CouplingDemand {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	for _, idx := range idxs {
		entry := net.CouplingDemand[idx]
		if entry.Priority != priority {
			continue
		}
		name := net.Problem.Names[idx]
		plusIdx := net.Problem.AddVar("eplus_"+name, 0, 1e18)
		minusIdx := net.Problem.AddVar("eminus_"+name, 0, 1e18)
		row := Row{Name: "err_" + name, Coef: map[int]float64{idx: 1, plusIdx: -1, minusIdx: 1}, Sense: EQ, RHS: entry.Demand}
		obj.rows = append(obj.rows, row)
		obj.obj[plusIdx] = 1
		obj.obj[minusIdx] = 1
	}
}

// addTieBreakTerms folds the source-priority and route-priority tie-break
// expressions into every priority's objective (spec.md §4.7 step 4b "a
// weighted sum of two L1 expressions"): a smaller positive priority number
// is more preferred, so its flow is weighted more cheaply than a larger one,
// biasing the solver toward preferred sources and routes when a tie between
// otherwise-equal solutions would otherwise leave the choice to the solver's
// arbitrary pivoting order.
func addTieBreakTerms(m *inp.Model, net *Network, obj *objective) {
	for idx, slot := range net.edgeOf {
		e := slot.Edge
		if e.RoutePriority > 0 {
			obj.obj[idx] += tieBreakWeight * float64(e.RoutePriority)
		}
		if !slot.HasUpstream {
			continue
		}
		up := slot.Upstream
		var sourcePriority int
		if fb, ok := m.Params.FlowBoundary[up]; ok {
			sourcePriority = fb.SourcePriority
		} else if lb, ok := m.Params.LevelBoundary[up]; ok {
			sourcePriority = lb.SourcePriority
		}
		if sourcePriority > 0 {
			obj.obj[idx] += tieBreakWeight * float64(sourcePriority)
		}
	}
}

// sortedBasins lists the basins net.LevelDemand names, in index order, so
// iteration order does not depend on map order (spec.md §4.7
// "Determinism").
func sortedBasins(net *Network) []graph.NodeID {
	var bs []graph.NodeID
	for b := range net.LevelDemand {
		bs = append(bs, b)
	}
	sort.Slice(bs, func(i, j int) bool { return bs[i].Index < bs[j].Index })
	return bs
}
