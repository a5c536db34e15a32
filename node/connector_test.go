package node

import (
	"testing"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
)

func Test_linearResistance01(tst *testing.T) {

	chk.PrintTitle("linearResistance01")

	p := inp.NewParamStore()
	id := graph.NodeID{Type: graph.LinearResistance, Index: 1, Subnetwork: 1}
	p.LinearResistance[id] = &inp.LinearResistanceParams{Resistance: 2, MaxFlowRate: 10}

	c := New(id, p)
	if c == nil {
		tst.Errorf("New returned nil for a registered type")
		return
	}

	q := c.Flow(Inputs{HUp: 4, HDown: 0, SUp: 1000})
	chk.Scalar(tst, "Q = dh/R, full reduction", 1e-12, q, 2)

	qClamped := c.Flow(Inputs{HUp: 100, HDown: 0, SUp: 1000})
	chk.Scalar(tst, "Q clamped to MaxFlowRate", 1e-12, qClamped, 10)

	qDry := c.Flow(Inputs{HUp: 4, HDown: 0, SUp: 0})
	chk.Scalar(tst, "Q vanishes below storage threshold", 1e-12, qDry, 0)
}

func Test_linearResistanceDual01(tst *testing.T) {

	chk.PrintTitle("linearResistanceDual01")

	p := inp.NewParamStore()
	id := graph.NodeID{Type: graph.LinearResistance, Index: 1, Subnetwork: 1}
	p.LinearResistance[id] = &inp.LinearResistanceParams{Resistance: 2}

	c := New(id, p).(DualConnector)
	d := c.FlowDual(DualInputs{
		HUp:   Dual{V: 4, D: 1},
		HDown: ConstDual(0),
		SUp:   ConstDual(1000),
	})
	// Q = (h_up - h_down)/R, so dQ/dh_up = 1/R = 0.5, fully within the
	// reduction factor's saturated region (S_up >> eps).
	chk.Scalar(tst, "dQ/dh_up", 1e-12, d.D, 0.5)
}

func Test_pump01(tst *testing.T) {

	chk.PrintTitle("pump01")

	p := inp.NewParamStore()
	id := graph.NodeID{Type: graph.Pump, Index: 1, Subnetwork: 1}
	p.Pump[id] = &inp.PumpParams{FlowRate: &inp.Cell{Static: 5}, MaxFlowRate: 20, MinFlowRate: 0}

	c := New(id, p)
	q := c.Flow(Inputs{T: 0, SUp: 1000})
	chk.Scalar(tst, "Q = static flow_rate", 1e-12, q, 5)
}

func Test_outlet01(tst *testing.T) {

	chk.PrintTitle("outlet01")

	p := inp.NewParamStore()
	id := graph.NodeID{Type: graph.Outlet, Index: 1, Subnetwork: 1}
	p.Outlet[id] = &inp.OutletParams{
		FlowRate: &inp.Cell{Static: 5}, MaxFlowRate: 20, MinUpstreamLevel: 1,
	}

	c := New(id, p)
	qBelow := c.Flow(Inputs{T: 0, HUp: 0.5, SUp: 1000})
	chk.Scalar(tst, "Q vanishes below min_upstream_level", 1e-12, qBelow, 0)

	qAbove := c.Flow(Inputs{T: 0, HUp: 2, SUp: 1000})
	chk.Scalar(tst, "Q passes above min_upstream_level", 1e-12, qAbove, 5)
}

func Test_unregisteredType01(tst *testing.T) {

	chk.PrintTitle("unregisteredType01")

	p := inp.NewParamStore()
	id := graph.NodeID{Type: graph.Basin, Index: 1, Subnetwork: 1}
	if c := New(id, p); c != nil {
		tst.Errorf("Basin should carry no Connector, got %v", c)
	}
}
