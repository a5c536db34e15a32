package jac

import (
	"testing"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/state"

	_ "github.com/ribasim/ribasim-go/node" // registers connector allocators via init()
)

// buildTwoBasinNetwork wires Basin(1) --LinearResistance--> Basin(2), the
// smallest topology that exercises every row kind in the Jacobian
// prototype (edge-state row, two evaporation rows, two infiltration rows).
func buildTwoBasinNetwork(tst *testing.T) (*inp.Model, *state.Layout, *state.FlowToStorage) {
	reg := graph.NewRegistry()
	b1 := reg.AddNode(graph.Basin, 1)
	b2 := reg.AddNode(graph.Basin, 1)
	lr := reg.AddNode(graph.LinearResistance, 1)
	reg.AddEdge(b1, lr, graph.FlowEdge)
	reg.AddEdge(lr, b2, graph.FlowEdge)
	if err := reg.Finalize(); err != nil {
		tst.Fatalf("Finalize: %v", err)
	}

	params := inp.NewParamStore()
	profile, err := inp.NewProfile([]float64{0, 10}, []float64{100, 100}, nil)
	if err != nil {
		tst.Fatalf("NewProfile: %v", err)
	}
	params.Basin[b1] = &inp.BasinParams{
		Profile: profile, Precipitation: inp.Constant(0), PotentialEvap: inp.Constant(0),
		Drainage: inp.Constant(0), Infiltration: inp.Constant(0), LowStorageEps: 10,
	}
	params.Basin[b2] = &inp.BasinParams{
		Profile: profile, Precipitation: inp.Constant(0), PotentialEvap: inp.Constant(0),
		Drainage: inp.Constant(0), Infiltration: inp.Constant(0), LowStorageEps: 10,
	}
	params.LinearResistance[lr] = &inp.LinearResistanceParams{Resistance: 2}

	m := &inp.Model{Config: &inp.Config{}, Registry: reg, Params: params}
	layout := state.BuildLayout(reg, nil)
	ftos := state.BuildFlowToStorage(reg, layout)
	return m, layout, ftos
}

func Test_prototype01(tst *testing.T) {

	chk.PrintTitle("prototype01")

	_, layout, _ := buildTwoBasinNetwork(tst)
	proto := Build(layout)

	var edgeRow int
	for _, slot := range layout.EdgeState {
		edgeRow = slot.Index
	}
	cols, ok := proto.Rows[edgeRow]
	if !ok || len(cols) == 0 {
		tst.Errorf("edge-state row has no recorded dependency")
	}
}

func Test_evaluatorAD01(tst *testing.T) {

	chk.PrintTitle("evaluatorAD01")

	m, layout, ftos := buildTwoBasinNetwork(tst)
	rhs := state.NewRHS(m, layout)
	proto := Build(layout)
	ev := NewEvaluator(rhs, layout, ftos, proto, true)

	u := make([]float64, layout.N)
	s0 := []float64{500, 500}

	t3, err := ev.Eval(0, u, s0)
	if err != nil {
		tst.Errorf("Eval failed: %v", err)
		return
	}
	mtx := t3.ToMatrix(nil)
	if mtx == nil {
		tst.Errorf("ToMatrix returned nil")
	}
}

func Test_evaluatorFD01(tst *testing.T) {

	chk.PrintTitle("evaluatorFD01")

	m, layout, ftos := buildTwoBasinNetwork(tst)
	rhs := state.NewRHS(m, layout)
	proto := Build(layout)
	ev := NewEvaluator(rhs, layout, ftos, proto, false)

	u := make([]float64, layout.N)
	s0 := []float64{500, 500}

	if _, err := ev.Eval(0, u, s0); err != nil {
		tst.Errorf("Eval failed: %v", err)
	}
}
