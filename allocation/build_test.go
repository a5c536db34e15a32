package allocation

import (
	"math"
	"testing"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/state"
)

// smallNetwork builds FlowBoundary -> LinearResistance -> Basin -> UserDemand,
// all in subnetwork 1, with a flat 5 m^2 basin profile (storage = 5*level).
func smallNetwork() (*inp.Model, *state.Layout, []float64) {
	reg := graph.NewRegistry()
	params := inp.NewParamStore()

	fb := reg.AddNode(graph.FlowBoundary, 1)
	lr := reg.AddNode(graph.LinearResistance, 1)
	basin := reg.AddNode(graph.Basin, 1)
	ud := reg.AddNode(graph.UserDemand, 1)

	reg.AddEdge(fb, lr, graph.FlowEdge)
	reg.AddEdge(lr, basin, graph.FlowEdge)
	reg.AddEdge(basin, ud, graph.FlowEdge)
	if err := reg.Finalize(); err != nil {
		panic(err)
	}

	profile, err := inp.NewProfile([]float64{0, 10}, []float64{5, 5}, nil)
	if err != nil {
		panic(err)
	}
	params.Basin[basin] = &inp.BasinParams{Profile: profile, LowStorageEps: 10}
	params.LinearResistance[lr] = &inp.LinearResistanceParams{Resistance: 2}
	params.FlowBoundary[fb] = &inp.FlowBoundaryParams{Flow: inp.Constant(5), SourcePriority: 1}
	params.UserDemand[ud] = &inp.UserDemandParams{DemandByPriority: map[int]*inp.TimeSeries{1: inp.Constant(3)}}

	m := &inp.Model{Registry: reg, Params: params}
	layout := state.BuildLayout(reg, nil)
	storages := make([]float64, len(layout.Basins))
	storages[layout.BasinIdx[basin]] = 25 // level = 5

	return m, layout, storages
}

// Test_buildLinearize01 checks the linearized connector row reproduces the
// exact slope of LinearResistance's Q = (h_up-h_down)/R, since the formula is
// already linear in head and the central difference should recover it to
// high precision.
func Test_buildLinearize01(tst *testing.T) {

	chk.PrintTitle("buildLinearize01")

	m, layout, storages := smallNetwork()
	net := Build(m, layout, 1, 3600, storages, nil, 0, math.Inf(1))

	var row *Row
	for i := range net.Problem.Rows {
		if net.Problem.Rows[i].Name == "lin_e2" {
			row = &net.Problem.Rows[i]
		}
	}
	if row == nil {
		tst.Fatalf("expected a linearization row for the LinearResistance edge")
	}

	basin := layout.Basins[0]
	dsIdx := net.VarIdx[VarRef{Kind: varStorageChange, Node: basin}]
	slope := m.Params.Basin[basin].Profile.SlopeAt(25) // = 1/5
	wantCoef := -(-0.5) * slope                        // -dqdHDown * slope, dqdHDown = -1/R = -0.5

	chk.Scalar(tst, "q0", 1e-6, row.RHS, -2.5)
	chk.Scalar(tst, "dS coefficient", 1e-6, row.Coef[dsIdx], wantCoef)
}

// Test_buildLevelDemand01 checks a LevelDemand node's min/max bounds turn
// into storage-violation slack variables tied to the basin's storage-change
// variable by GE rows.
func Test_buildLevelDemand01(tst *testing.T) {

	chk.PrintTitle("buildLevelDemand01")

	m, layout, storages := smallNetwork()
	basin := layout.Basins[0]

	ld := m.Registry.AddNode(graph.LevelDemand, 1)
	m.Registry.AddEdge(ld, basin, graph.ControlEdge)
	m.Params.LevelDemand[ld] = &inp.LevelDemandParams{
		MinLevel: inp.Constant(6), // storage 30, above the current 25
		MaxLevel: inp.Constant(9), // storage 45
		Priority: 2,
	}

	net := Build(m, layout, 1, 3600, storages, nil, 0, math.Inf(1))

	aux, ok := net.LevelDemand[basin]
	if !ok {
		tst.Fatalf("expected a LevelDemand aux entry for the basin")
	}
	if aux.Priority != 2 {
		tst.Errorf("aux.Priority = %d, want 2", aux.Priority)
	}

	var loRow, hiRow *Row
	for i := range net.Problem.Rows {
		switch net.Problem.Rows[i].Name {
		case "lo_bound_" + basin.String():
			loRow = &net.Problem.Rows[i]
		case "hi_bound_" + basin.String():
			hiRow = &net.Problem.Rows[i]
		}
	}
	if loRow == nil || hiRow == nil {
		tst.Fatalf("expected both lo_bound_ and hi_bound_ rows")
	}
	chk.Scalar(tst, "lo_bound RHS", 1e-9, loRow.RHS, 30-25)
	chk.Scalar(tst, "hi_bound RHS", 1e-9, hiRow.RHS, 25-45)
}

// Test_addTieBreakTerms01 checks a boundary's SourcePriority and an edge's
// RoutePriority both contribute tieBreakWeight-scaled terms to the flow
// variable's objective coefficient.
func Test_addTieBreakTerms01(tst *testing.T) {

	chk.PrintTitle("addTieBreakTerms01")

	m, layout, storages := smallNetwork()
	for _, e := range m.Registry.AllEdgesSorted() {
		if e.From.Type == graph.LinearResistance {
			e.RoutePriority = 3
		}
	}

	net := Build(m, layout, 1, 3600, storages, nil, 0, math.Inf(1))
	obj := objective{obj: map[int]float64{}}
	addTieBreakTerms(m, net, &obj)

	var flowIdx int
	for idx, slot := range net.edgeOf {
		if slot.Edge.From.Type == graph.LinearResistance {
			flowIdx = idx
		}
	}
	want := tieBreakWeight*3 + tieBreakWeight*1 // route priority 3 + upstream source priority 1
	chk.Scalar(tst, "flow objective tie-break term", 1e-12, obj.obj[flowIdx], want)
}
