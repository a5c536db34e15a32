package control

import (
	"testing"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/state"
)

func Test_truthKey01(tst *testing.T) {

	chk.PrintTitle("truthKey01")

	chk.String(tst, truthKey([]bool{true, false, true}), "101")
	chk.String(tst, truthKey(nil), "")
}

func Test_lookupControlState01(tst *testing.T) {

	chk.PrintTitle("lookupControlState01")

	m := map[string]string{
		"11":  "exact",
		"1*":  "one_wildcard",
		"**":  "two_wildcards",
	}
	cs, ok := lookupControlState(m, "11")
	if !ok || cs != "exact" {
		tst.Errorf("exact match: got %q, %v", cs, ok)
	}
	cs, ok = lookupControlState(m, "10")
	if !ok || cs != "one_wildcard" {
		tst.Errorf("single-wildcard preference: got %q, %v", cs, ok)
	}
	cs, ok = lookupControlState(m, "00")
	if !ok || cs != "two_wildcards" {
		tst.Errorf("fallback wildcard: got %q, %v", cs, ok)
	}
	if _, ok := lookupControlState(m, "000"); ok {
		tst.Errorf("expected no match for a key of different length")
	}
}

// Test_discreteStep01 wires one Basin's storage as a DiscreteControl's only
// sub-variable, driving a Pump between two control states as it crosses a
// single threshold with hysteresis.
func Test_discreteStep01(tst *testing.T) {

	chk.PrintTitle("discreteStep01")

	reg := graph.NewRegistry()
	b := reg.AddNode(graph.Basin, 1)
	p := reg.AddNode(graph.Pump, 1)
	dc := reg.AddNode(graph.DiscreteControl, 1)
	reg.AddEdge(b, p, graph.FlowEdge)
	if err := reg.Finalize(); err != nil {
		tst.Fatalf("Finalize: %v", err)
	}

	params := inp.NewParamStore()
	profile, err := inp.NewProfile([]float64{0, 10}, []float64{100, 100}, nil)
	if err != nil {
		tst.Fatalf("NewProfile: %v", err)
	}
	params.Basin[b] = &inp.BasinParams{
		Profile: profile, Precipitation: inp.Constant(0), PotentialEvap: inp.Constant(0),
		Drainage: inp.Constant(0), Infiltration: inp.Constant(0), LowStorageEps: 10,
	}
	params.Pump[p] = &inp.PumpParams{
		FlowRate: &inp.Cell{Static: 0},
		ControlVariants: map[string]float64{"off": 0, "on": 5},
	}
	params.DiscreteControl[dc] = &inp.DiscreteControlParams{
		CompoundVariables: []inp.CompoundVariable{{
			SubVariables: []inp.SubVariable{{ListenNodeID: b, Variable: "storage", Weight: 1}},
			Thresholds:   []inp.Threshold{{Low: 40, High: 60}},
		}},
		ControlStateMap: map[string]string{"0": "off", "1": "on"},
		Targets:         []graph.NodeID{p},
	}

	m := &inp.Model{Config: &inp.Config{}, Registry: reg, Params: params}
	layout := state.BuildLayout(reg, nil)

	d := NewDiscrete(m)
	sig := &Signals{Model: m, Layout: layout, Storages: []float64{30}}
	events := d.Step(sig, 0)
	if len(events) != 1 || events[0].ControlState != "off" {
		tst.Errorf("below threshold: expected the initial 'off' state to be recorded, got %v", events)
	}
	chk.Scalar(tst, "flow_rate below threshold", 1e-12, params.Pump[p].FlowRate.Get(0), 0)

	sig.Storages = []float64{70}
	events = d.Step(sig, 100)
	if len(events) != 1 || events[0].ControlState != "on" {
		tst.Fatalf("above threshold: expected one transition to 'on', got %v", events)
	}
	chk.Scalar(tst, "flow_rate above threshold", 1e-12, params.Pump[p].FlowRate.Get(100), 5)

	// Hysteresis: dropping to the middle band should not revert the bit.
	sig.Storages = []float64{50}
	events = d.Step(sig, 200)
	if len(events) != 0 {
		tst.Errorf("mid-band: expected hysteresis to hold state, got %v", events)
	}
}
