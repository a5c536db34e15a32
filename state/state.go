// Package state implements the integration state vector and the
// flow-to-storage projection (C2): it packs per-node integration states
// into one dense vector with named ranges, and builds the sparse {-1,0,+1}
// matrix F that maps state-entry derivatives onto basin storage
// derivatives (spec.md §4.2).
package state

import (
	"github.com/cpmech/gosl/chk"
	"github.com/cpmech/gosl/la"

	"github.com/ribasim/ribasim-go/graph"
)

// Range is a half-open [Start, End) slice of the state vector.
type Range struct {
	Start, End int
}

func (r Range) Len() int { return r.End - r.Start }

// stateful is the fixed set of node types that own a cumulative-flow state
// entry per instance, per spec.md §4.2: "TabulatedRatingCurve, Pump,
// Outlet, LinearResistance, ManningResistance, UserDemand inflow".
var stateful = []graph.NodeType{
	graph.TabulatedRatingCurve,
	graph.Pump,
	graph.Outlet,
	graph.LinearResistance,
	graph.ManningResistance,
	graph.UserDemand,
}

// EdgeSlot identifies which state-vector entry a connector's cumulative
// flow occupies. The connector's own outgoing edge only pins down the
// downstream side (Edge.To / Edge.BasinPath); Upstream and UpstreamBasins
// resolve the actual upstream node and basin(s) feeding the connector,
// since Edge.From is always the connector itself, never a basin.
type EdgeSlot struct {
	Edge           *graph.Edge
	Index          int // absolute index into the state vector
	Upstream       graph.NodeID
	HasUpstream    bool
	UpstreamBasins []graph.NodeID
}

// Layout describes how the dense state vector u is partitioned:
// precipitation, drainage, evaporation, infiltration, one entry per
// PidControl node for its integral term (spec.md §4.8 "the integral term is
// integrated in-place as an extra state"), and one cumulative-flow entry per
// edge whose upstream node is a stateful type.
type Layout struct {
	Basins    []graph.NodeID
	BasinIdx  map[graph.NodeID]int

	Precipitation Range
	Drainage      Range
	Evaporation   Range
	Infiltration  Range

	// PidIntegral holds one entry per node in PidNodes, same order.
	PidIntegral Range
	PidNodes    []graph.NodeID
	PidIdx      map[graph.NodeID]int

	// EdgeState maps an edge id to its cumulative-flow slot.
	EdgeState map[string]*EdgeSlot
	ByType    map[graph.NodeType]Range

	N int // total length of the state vector
}

// BuildLayout assigns ranges in a fixed, deterministic order: precipitation,
// drainage, evaporation, infiltration, PID integral states (pidNodes must
// already be sorted by the caller, see control.SortedPidNodes), then one
// range per stateful node type in the order listed above, edges within a
// type ordered by the registry's deterministic edge sort (spec.md §4.7
// Determinism applies equally here since layout order determines Jacobian
// sparsity ordering).
func BuildLayout(reg *graph.Registry, pidNodes []graph.NodeID) *Layout {
	basins := reg.NodesOfType(graph.Basin)
	l := &Layout{
		Basins:    basins,
		BasinIdx:  make(map[graph.NodeID]int, len(basins)),
		PidNodes:  pidNodes,
		PidIdx:    make(map[graph.NodeID]int, len(pidNodes)),
		EdgeState: make(map[string]*EdgeSlot),
		ByType:    make(map[graph.NodeType]Range),
	}
	for i, b := range basins {
		l.BasinIdx[b] = i
	}
	for i, id := range pidNodes {
		l.PidIdx[id] = i
	}

	cursor := 0
	l.Precipitation = Range{cursor, cursor + len(basins)}
	cursor += len(basins)
	l.Drainage = Range{cursor, cursor + len(basins)}
	cursor += len(basins)
	l.Evaporation = Range{cursor, cursor + len(basins)}
	cursor += len(basins)
	l.Infiltration = Range{cursor, cursor + len(basins)}
	cursor += len(basins)
	l.PidIntegral = Range{cursor, cursor + len(pidNodes)}
	cursor += len(pidNodes)

	edges := reg.AllEdgesSorted()
	for _, t := range stateful {
		start := cursor
		for _, id := range reg.NodesOfType(t) {
			for _, e := range edges {
				if e.Type == graph.FlowEdge && e.From == id {
					up, hasUp := reg.UpstreamOf(id)
					slot := &EdgeSlot{
						Edge: e, Index: cursor,
						Upstream: up, HasUpstream: hasUp,
						UpstreamBasins: reg.UpstreamBasinPath(id),
					}
					l.EdgeState[e.ID] = slot
					cursor++
				}
			}
		}
		l.ByType[t] = Range{start, cursor}
	}
	l.N = cursor
	return l
}

// FlowToStorage is the sparse {-1,0,+1} matrix F of shape
// (#basins x #state_entries) that projects the time derivative of each
// state entry onto its contribution to a basin's dS/dt (spec.md §4.2).
type FlowToStorage struct {
	Triplet *la.Triplet
	Matrix  *la.CCMatrix
	NBasins int
	NStates int
}

// BuildFlowToStorage scans every flow edge, recording +1 at
// (basin_in, edge_state) and -1 at (basin_out, edge_state); evaporation and
// infiltration contribute -1 on their own basins (spec.md §4.2).
func BuildFlowToStorage(reg *graph.Registry, layout *Layout) *FlowToStorage {
	nnzEstimate := 2*len(layout.EdgeState) + 4*len(layout.Basins)
	t := new(la.Triplet)
	t.Init(len(layout.Basins), layout.N, nnzEstimate)

	for _, slot := range layout.EdgeState {
		e := slot.Edge
		if idx, ok := layout.BasinIdx[e.To]; ok {
			t.Put(idx, slot.Index, 1.0)
		}
		// Flows through a chain of Junctions also touch any intermediate
		// Basin the edge's BasinPath recorded during graph.Finalize.
		for _, b := range e.BasinPath {
			if idx, ok := layout.BasinIdx[b]; ok && b != e.To {
				t.Put(idx, slot.Index, 1.0)
			}
		}
		// The upstream side is never e.From itself (that is always the
		// connector, never a basin): it is resolved separately since a
		// connector's inflow edge carries no state of its own.
		for _, b := range slot.UpstreamBasins {
			if idx, ok := layout.BasinIdx[b]; ok {
				t.Put(idx, slot.Index, -1.0)
			}
		}
	}
	for i := range layout.Basins {
		t.Put(i, layout.Precipitation.Start+i, 1.0)
		t.Put(i, layout.Drainage.Start+i, 1.0)
		t.Put(i, layout.Evaporation.Start+i, -1.0)
		t.Put(i, layout.Infiltration.Start+i, -1.0)
	}
	m := t.ToMatrix(nil)
	return &FlowToStorage{Triplet: t, Matrix: m, NBasins: len(layout.Basins), NStates: layout.N}
}

// Project computes dS = F * du for the given state derivative vector,
// returning one entry per basin in Layout.Basins order.
func (f *FlowToStorage) Project(du []float64) []float64 {
	if len(du) != f.NStates {
		chk.Panic("state: Project: du has length %d, want %d", len(du), f.NStates)
	}
	dS := make([]float64, f.NBasins)
	la.SpMatVecMulAdd(dS, 1.0, f.Matrix, du)
	return dS
}
