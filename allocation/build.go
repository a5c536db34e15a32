package allocation

import (
	"math"
	"sort"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/state"
)

// varKind distinguishes the few shapes of decision variable spec.md §4.7
// names: "variables are flows over the subnetwork's flow links (scaled),
// basin storage changes, low-storage factors in [0,1], and allocation
// variables per (demand node, priority)".
type varKind int

const (
	varFlow varKind = iota
	varStorageChange
	varLowStorageFactor
	varAllocated
)

// VarRef identifies one LP column.
type VarRef struct {
	Kind     varKind
	Node     graph.NodeID // edge's connector node for varFlow, the basin for storage/low-storage, the demand node for varAllocated
	Priority int          // only meaningful for varAllocated
}

// LevelDemandAux names the two one-sided storage-violation error variables
// a basin's LevelDemand contributes to its matching priority's objective
// (spec.md §4.7 "Level demand bounds").
type LevelDemandAux struct {
	LoErr, HiErr int
	Priority     int
}

// CouplingDemandEntry is a secondary subnetwork's collected demand on one of
// the primary's own flow variables, injected into the primary's
// goal-programming objective at the secondary's earliest demand priority
// (spec.md §4.7 "secondary subnetworks add their own demand to the
// primary's problem" -- aggregating to the earliest priority rather than
// decomposing per priority is a deliberate simplification, see DESIGN.md).
type CouplingDemandEntry struct {
	Demand   float64
	Priority int
}

// Network is one subnetwork's allocation problem, rebuilt fresh every
// allocation timestep (spec.md §4.7 "Reset goal-programming state").
type Network struct {
	Subnetwork int
	DtAlloc    float64

	Vars    []VarRef
	VarIdx  map[VarRef]int
	Problem *Problem

	edgeOf  map[int]*state.EdgeSlot // varFlow index -> its connector's edge slot
	basinOf map[int]graph.NodeID    // varStorageChange/varLowStorageFactor index -> basin

	// CouplingIn is the varFlow index of the edge feeding this (secondary)
	// subnetwork from the primary, or -1 if this subnetwork has no such
	// edge, or is itself the primary.
	CouplingIn int

	// LevelDemand holds, per basin with a LevelDemand node, the aux
	// variables its storage bound violation feeds into the matching
	// priority's objective.
	LevelDemand map[graph.NodeID]LevelDemandAux

	// CouplingDemand is only populated on the primary subnetwork's Network,
	// after its secondaries have been demand-collected (see
	// callback.Scheduler.runAllocation); keyed by this Network's own
	// varFlow index for the coupling edge.
	CouplingDemand map[int]CouplingDemandEntry
}

// Build assembles the LP for one subnetwork at the current state (spec.md
// §4.7 steps 1-3). storages are the simulation's current per-basin values
// (Layout.Basins order); t is the current simulation time, used to evaluate
// LevelBoundary schedules and LevelDemand bounds at the instant the
// allocation step runs. inflowCap bounds the inflow coupling variable for a
// secondary subnetwork (+Inf during demand collection, the primary's
// granted flow during the final re-solve); it is ignored for the primary
// subnetwork itself.
func Build(m *inp.Model, layout *state.Layout, sub int, dtAlloc float64, storages []float64, netForcing func(b graph.NodeID) float64, t float64, inflowCap float64) *Network {
	n := &Network{
		Subnetwork: sub, DtAlloc: dtAlloc, VarIdx: map[VarRef]int{},
		edgeOf: map[int]*state.EdgeSlot{}, basinOf: map[int]graph.NodeID{},
		CouplingIn: -1, LevelDemand: map[graph.NodeID]LevelDemandAux{}, CouplingDemand: map[int]CouplingDemandEntry{},
	}

	var edgeSlots []*state.EdgeSlot
	var couplingSlot *state.EdgeSlot
	for _, slot := range layout.EdgeState {
		switch {
		case slot.Edge.From.Subnetwork == sub:
			edgeSlots = append(edgeSlots, slot)
		case sub != 1 && slot.Edge.From.Subnetwork == 1 && slot.Edge.To.Subnetwork == sub:
			// the crossing edge already belongs to the primary's own Build
			// (its From node lives in subnetwork 1); here it is ALSO a
			// decision variable of this secondary's problem, representing
			// how much inflow it wants/receives from the primary.
			edgeSlots = append(edgeSlots, slot)
			couplingSlot = slot
		}
	}
	sort.Slice(edgeSlots, func(i, j int) bool { return edgeSlots[i].Edge.ID < edgeSlots[j].Edge.ID })

	var basins []graph.NodeID
	for _, b := range layout.Basins {
		if b.Subnetwork == sub {
			basins = append(basins, b)
		}
	}
	sort.Slice(basins, func(i, j int) bool { return basins[i].Index < basins[j].Index })

	var names []string
	add := func(ref VarRef, name string) int {
		idx := len(names)
		names = append(names, name)
		n.Vars = append(n.Vars, ref)
		n.VarIdx[ref] = idx
		return idx
	}

	for _, slot := range edgeSlots {
		idx := add(VarRef{Kind: varFlow, Node: slot.Edge.From}, "flow_"+slot.Edge.ID)
		n.edgeOf[idx] = slot
		if slot == couplingSlot {
			n.CouplingIn = idx
		}
	}
	for _, b := range basins {
		idx := add(VarRef{Kind: varStorageChange, Node: b}, "dS_"+b.String())
		n.basinOf[idx] = b
		idx2 := add(VarRef{Kind: varLowStorageFactor, Node: b}, "rho_"+b.String())
		n.basinOf[idx2] = b
	}
	demandPriorities := map[graph.NodeID][]int{}
	for _, id := range sortedUserDemands(m, sub) {
		dp := m.Params.UserDemand[id]
		var ps []int
		for p := range dp.DemandByPriority {
			ps = append(ps, p)
		}
		sort.Ints(ps)
		demandPriorities[id] = ps
		for _, p := range ps {
			add(VarRef{Kind: varAllocated, Node: id, Priority: p}, "alloc_"+id.String())
		}
	}

	n.Problem = NewProblem(len(names), names)
	for i := range basins {
		lowIdx := n.VarIdx[VarRef{Kind: varLowStorageFactor, Node: basins[i]}]
		n.Problem.Lower[lowIdx], n.Problem.Upper[lowIdx] = 0, 1
	}
	for idx, slot := range n.edgeOf {
		lo, hi := flowBounds(m, slot)
		if idx == n.CouplingIn {
			lo, hi = 0, inflowCap
		}
		n.Problem.Lower[idx], n.Problem.Upper[idx] = lo, hi
	}
	for _, b := range basins {
		bp := m.Params.Basin[b]
		smax := bp.Profile.Storage[len(bp.Profile.Storage)-1]
		dsIdx := n.VarIdx[VarRef{Kind: varStorageChange, Node: b}]
		n.Problem.Lower[dsIdx] = -storages[layout.BasinIdx[b]]
		n.Problem.Upper[dsIdx] = smax - storages[layout.BasinIdx[b]]
	}

	headAt, storageAt := headAndStorage(m, layout, storages, t)

	n.buildVolumeConservation(basins, netForcing)
	n.buildDemandSums(sortedUserDemands(m, sub), demandPriorities)
	n.buildLinearizedRelations(m, t, headAt, storageAt)
	n.buildLevelDemandBounds(m, layout, storages, t)
	return n
}

// buildLevelDemandBounds adds two one-sided storage-violation error
// variables per basin with a LevelDemand, resolved via the LevelDemand
// node's own control edge -- the same link_type="control" mechanism
// DiscreteControl targets use -- with GE rows tying them to the
// post-allocation storage through the basin's own varStorageChange
// variable (spec.md §4.7 "Level demand bounds").
func (n *Network) buildLevelDemandBounds(m *inp.Model, layout *state.Layout, storages []float64, t float64) {
	for id, params := range m.Params.LevelDemand {
		if id.Subnetwork != n.Subnetwork {
			continue
		}
		for _, e := range m.Registry.ControlEdgesFrom(id) {
			b := e.To
			dsIdx, ok := n.VarIdx[VarRef{Kind: varStorageChange, Node: b}]
			if !ok {
				continue
			}
			bp := m.Params.Basin[b]
			storage0 := storages[layout.BasinIdx[b]]
			minStorage := bp.Profile.StorageAt(params.MinLevel.At(t))
			maxStorage := bp.Profile.StorageAt(params.MaxLevel.At(t))

			loIdx := n.Problem.AddVar("lo_err_"+b.String(), 0, 1e18)
			hiIdx := n.Problem.AddVar("hi_err_"+b.String(), 0, 1e18)
			n.Problem.Rows = append(n.Problem.Rows,
				Row{Name: "lo_bound_" + b.String(), Coef: map[int]float64{loIdx: 1, dsIdx: 1}, Sense: GE, RHS: minStorage - storage0},
				Row{Name: "hi_bound_" + b.String(), Coef: map[int]float64{hiIdx: 1, dsIdx: -1}, Sense: GE, RHS: storage0 - maxStorage},
			)
			n.LevelDemand[b] = LevelDemandAux{LoErr: loIdx, HiErr: hiIdx, Priority: params.Priority}
		}
	}
}

// headAndStorage snapshots the current basin levels (inverted from storage
// via each basin's Profile) and the LevelBoundary schedule at t, mirroring
// state.RHS.headAt/storageAt for the allocation LP's linearization and
// level-demand bound construction.
func headAndStorage(m *inp.Model, layout *state.Layout, storages []float64, t float64) (func(graph.NodeID, float64) float64, func(graph.NodeID) float64) {
	levels := make([]float64, len(layout.Basins))
	for i, id := range layout.Basins {
		levels[i] = m.Params.Basin[id].Profile.LevelAt(storages[i])
	}
	headAt := func(id graph.NodeID, at float64) float64 {
		if idx, ok := layout.BasinIdx[id]; ok {
			return levels[idx]
		}
		if lb, ok := m.Params.LevelBoundary[id]; ok {
			return lb.Level.At(at)
		}
		return 0
	}
	storageAt := func(id graph.NodeID) float64 {
		if idx, ok := layout.BasinIdx[id]; ok {
			return storages[idx]
		}
		return state.EpsLargeStorage
	}
	return headAt, storageAt
}

// CouplingEdge returns the graph edge carrying this (secondary)
// subnetwork's inflow from the primary, or nil if it has none.
func (n *Network) CouplingEdge() *graph.Edge {
	slot, ok := n.edgeOf[n.CouplingIn]
	if !ok {
		return nil
	}
	return slot.Edge
}

// FlowVarIndex returns the LP column for a connector node's flow variable,
// the lookup callback.Scheduler needs to inject a coupling demand onto the
// primary's own copy of a crossing edge's flow variable.
func (n *Network) FlowVarIndex(connector graph.NodeID) (int, bool) {
	idx, ok := n.VarIdx[VarRef{Kind: varFlow, Node: connector}]
	return idx, ok
}

// sortedUserDemands lists a subnetwork's UserDemand node ids in index
// order, the same determinism discipline the rest of the simulation
// applies to map iteration (spec.md §4.7 "Determinism").
func sortedUserDemands(m *inp.Model, sub int) []graph.NodeID {
	var ids []graph.NodeID
	for id := range m.Params.UserDemand {
		if id.Subnetwork == sub {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Index < ids[j].Index })
	return ids
}

// flowBounds derives a connector's LP flow bounds from its static
// MaxFlowRate/MinFlowRate parameters (spec.md §4.7 "flows over the
// subnetwork's flow links").
func flowBounds(m *inp.Model, slot *state.EdgeSlot) (float64, float64) {
	id := slot.Edge.From
	switch id.Type {
	case graph.Pump:
		p := m.Params.Pump[id]
		return p.MinFlowRate, p.MaxFlowRate
	case graph.Outlet:
		o := m.Params.Outlet[id]
		return o.MinFlowRate, o.MaxFlowRate
	case graph.LinearResistance:
		r := m.Params.LinearResistance[id]
		if r.MaxFlowRate > 0 {
			return -r.MaxFlowRate, r.MaxFlowRate
		}
		return math.Inf(-1), math.Inf(1)
	default:
		return math.Inf(-1), math.Inf(1)
	}
}

// buildVolumeConservation encodes, per basin, Δt·(inflow − outflow) =
// storage_change (spec.md §4.7 step 3, volume conservation; the low-storage
// reduction term ρ is carried as a free [0,1] variable but no forcing
// relation constrains it here, and the nonlinear area(h) coupling is not
// modelled inside the LP).
func (n *Network) buildVolumeConservation(basins []graph.NodeID, netForcing func(b graph.NodeID) float64) {
	for _, b := range basins {
		row := Row{Name: "vol_" + b.String(), Coef: map[int]float64{}, Sense: EQ}
		for idx, slot := range n.edgeOf {
			e := slot.Edge
			if e.To == b {
				row.Coef[idx] += n.DtAlloc
			}
			for _, ub := range slot.UpstreamBasins {
				if ub == b {
					row.Coef[idx] -= n.DtAlloc
				}
			}
		}
		dsIdx := n.VarIdx[VarRef{Kind: varStorageChange, Node: b}]
		row.Coef[dsIdx] = -1
		if netForcing != nil {
			row.RHS = -n.DtAlloc * netForcing(b)
		}
		n.Problem.Rows = append(n.Problem.Rows, row)
	}
}

// buildDemandSums encodes "total flow into a demand node equals the sum of
// its per-priority allocated variables" (spec.md §4.7 step 3).
func (n *Network) buildDemandSums(ids []graph.NodeID, demandPriorities map[graph.NodeID][]int) {
	for _, id := range ids {
		ps := demandPriorities[id]
		row := Row{Name: "demand_" + id.String(), Coef: map[int]float64{}, Sense: EQ}
		for idx, slot := range n.edgeOf {
			if slot.Edge.To == id {
				row.Coef[idx] += 1
			}
		}
		for _, p := range ps {
			row.Coef[n.VarIdx[VarRef{Kind: varAllocated, Node: id, Priority: p}]] = -1
		}
		n.Problem.Rows = append(n.Problem.Rows, row)

		for _, p := range ps {
			idx := n.VarIdx[VarRef{Kind: varAllocated, Node: id, Priority: p}]
			if p == ps[0] {
				n.Problem.Lower[idx] = math.Inf(-1)
			} else {
				n.Problem.Lower[idx] = 0
			}
		}
	}
}
