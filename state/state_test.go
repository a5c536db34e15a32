package state

import (
	"testing"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/graph"
)

// Test_buildLayout01 checks the fixed range ordering and that the PID
// integral range sizes to the caller-supplied node list.
func Test_buildLayout01(tst *testing.T) {

	chk.PrintTitle("buildLayout01")

	reg := graph.NewRegistry()
	b1 := reg.AddNode(graph.Basin, 1)
	b2 := reg.AddNode(graph.Basin, 1)
	pid := reg.AddNode(graph.PidControl, 1)
	lr := reg.AddNode(graph.LinearResistance, 1)
	reg.AddEdge(b1, lr, graph.FlowEdge)
	reg.AddEdge(lr, b2, graph.FlowEdge)
	if err := reg.Finalize(); err != nil {
		tst.Fatalf("Finalize: %v", err)
	}

	l := BuildLayout(reg, []graph.NodeID{pid})

	chk.IntAssert(l.Precipitation.Len(), 2)
	chk.IntAssert(l.Drainage.Len(), 2)
	chk.IntAssert(l.Evaporation.Len(), 2)
	chk.IntAssert(l.Infiltration.Len(), 2)
	chk.IntAssert(l.PidIntegral.Len(), 1)

	chk.IntAssert(l.Precipitation.Start, 0)
	chk.IntAssert(l.Drainage.Start, 2)
	chk.IntAssert(l.Evaporation.Start, 4)
	chk.IntAssert(l.Infiltration.Start, 6)
	chk.IntAssert(l.PidIntegral.Start, 8)

	if len(l.EdgeState) != 1 {
		tst.Fatalf("expected 1 edge-state slot for the single LinearResistance, got %d", len(l.EdgeState))
	}
	chk.IntAssert(l.N, 9+1)
}

// Test_buildFlowToStorage01 checks the forcing-sign convention: precip and
// drainage add to storage, evap and infiltration subtract.
func Test_buildFlowToStorage01(tst *testing.T) {

	chk.PrintTitle("buildFlowToStorage01")

	reg := graph.NewRegistry()
	reg.AddNode(graph.Basin, 1)
	if err := reg.Finalize(); err != nil {
		tst.Fatalf("Finalize: %v", err)
	}
	l := BuildLayout(reg, nil)
	ftos := BuildFlowToStorage(reg, l)

	du := make([]float64, l.N)
	du[l.Precipitation.Start] = 5
	du[l.Drainage.Start] = 2
	du[l.Evaporation.Start] = 1
	du[l.Infiltration.Start] = 1
	dS := ftos.Project(du)

	chk.Scalar(tst, "dS", 1e-12, dS[0], 5+2-1-1)
}
