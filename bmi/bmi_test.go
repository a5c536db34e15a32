package bmi

import (
	"testing"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
)

func newTestModel(tst *testing.T) *inp.Model {
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
	zero := inp.Constant(0)
	params.Basin[b1] = &inp.BasinParams{Profile: profile, Precipitation: zero, PotentialEvap: zero, Drainage: zero, Infiltration: zero, LowStorageEps: 10, InitialLevel: 8}
	params.Basin[b2] = &inp.BasinParams{Profile: profile, Precipitation: zero, PotentialEvap: zero, Drainage: zero, Infiltration: zero, LowStorageEps: 10, InitialLevel: 2}
	params.LinearResistance[lr] = &inp.LinearResistanceParams{Resistance: 10}

	cfg := &inp.Config{}
	cfg.SetDefault()
	return &inp.Model{Config: cfg, Registry: reg, Params: params}
}

// Test_updateUntilRejectsPast01 checks the BMI past-time user error.
func Test_updateUntilRejectsPast01(tst *testing.T) {

	chk.PrintTitle("updateUntilRejectsPast01")

	m := newTestModel(tst)
	b := New(m, 0, 1000, nil)
	if err := b.UpdateUntil(100); err != nil {
		tst.Fatalf("UpdateUntil(100): %v", err)
	}
	if err := b.UpdateUntil(1); err == nil {
		tst.Errorf("expected an error moving update_until backward")
	}
}

// Test_getValuePtrUnknown01 checks the unknown-name error path.
func Test_getValuePtrUnknown01(tst *testing.T) {

	chk.PrintTitle("getValuePtrUnknown01")

	m := newTestModel(tst)
	b := New(m, 0, 1000, nil)
	if _, err := b.GetValuePtr("storage"); err != nil {
		tst.Errorf("GetValuePtr(storage): %v", err)
	}
	if _, err := b.GetValuePtr("bogus"); err == nil {
		tst.Errorf("expected an error for an unknown value name")
	}
}

// Test_finalizeBlocksFurtherUpdates01 checks Finalize's post-condition.
func Test_finalizeBlocksFurtherUpdates01(tst *testing.T) {

	chk.PrintTitle("finalizeBlocksFurtherUpdates01")

	m := newTestModel(tst)
	b := New(m, 0, 1000, nil)
	b.Finalize()
	if err := b.Update(); err == nil {
		tst.Errorf("expected Update to fail after Finalize")
	}
}
