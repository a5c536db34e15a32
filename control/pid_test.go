package control

import (
	"testing"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/state"
)

// Test_pidOutput01 checks the clamped P+I+D combination and that Output
// writes the result onto the target pump's flow rate.
func Test_pidOutput01(tst *testing.T) {

	chk.PrintTitle("pidOutput01")

	reg := graph.NewRegistry()
	b := reg.AddNode(graph.Basin, 1)
	p := reg.AddNode(graph.Pump, 1)
	pid := reg.AddNode(graph.PidControl, 1)
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
	params.Pump[p] = &inp.PumpParams{FlowRate: &inp.Cell{Static: 0}}
	params.PidControl[pid] = &inp.PidControlParams{
		Listen: b, Target: p, SetPoint: inp.Constant(5),
		Kp: 2, Ki: 0.5, Kd: 0.1, Min: -100, Max: 100,
	}

	m := &inp.Model{Config: &inp.Config{}, Registry: reg, Params: params}
	layout := state.BuildLayout(reg, SortedPidNodes(m))

	pc := NewPid(m)
	if len(pc.Nodes) != 1 || pc.Nodes[0] != pid {
		tst.Fatalf("expected one sorted PID node, got %v", pc.Nodes)
	}

	// level(storage=500) = 5 (profile is flat area, so level = storage/100 = 5),
	// matching the setpoint exactly, leaving only the I and D terms.
	sig := &Signals{Model: m, Layout: layout, Storages: []float64{500}}
	out := pc.Output(sig, pid, 0, 2.0, -0.5)
	chk.Scalar(tst, "output", 1e-9, out, 2*0+0.5*2.0+0.1*(-0.5))
	chk.Scalar(tst, "flow_rate written", 1e-9, params.Pump[p].FlowRate.Get(0), out)
}

// Test_pidOutput02 checks output clamping at the configured bounds.
func Test_pidOutput02(tst *testing.T) {

	chk.PrintTitle("pidOutput02")

	reg := graph.NewRegistry()
	b := reg.AddNode(graph.Basin, 1)
	p := reg.AddNode(graph.Pump, 1)
	pid := reg.AddNode(graph.PidControl, 1)
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
	params.Pump[p] = &inp.PumpParams{FlowRate: &inp.Cell{Static: 0}}
	params.PidControl[pid] = &inp.PidControlParams{
		Listen: b, Target: p, SetPoint: inp.Constant(1000),
		Kp: 100, Ki: 0, Kd: 0, Min: -1, Max: 1,
	}

	m := &inp.Model{Config: &inp.Config{}, Registry: reg, Params: params}
	layout := state.BuildLayout(reg, SortedPidNodes(m))
	pc := NewPid(m)

	sig := &Signals{Model: m, Layout: layout, Storages: []float64{0}}
	out := pc.Output(sig, pid, 0, 0, 0)
	chk.Scalar(tst, "clamped to Max", 1e-12, out, 1)
}
