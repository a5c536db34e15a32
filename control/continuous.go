package control

import (
	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
)

// Continuous runs ContinuousControl's piecewise-linear writeback every
// integrator callback (spec.md §4.8 "evaluate compound variable ->
// piecewise-linear function -> target parameter").
type Continuous struct {
	Model *inp.Model
}

func NewContinuous(m *inp.Model) *Continuous {
	return &Continuous{Model: m}
}

// Step evaluates every ContinuousControl node and writes its clamped
// output onto the target's controlled Cell.
func (c *Continuous) Step(sig *Signals, t float64) {
	var ids []graph.NodeID
	for id := range c.Model.Params.ContinuousControl {
		ids = append(ids, id)
	}
	sortNodeIDs(ids)
	for _, id := range ids {
		p := c.Model.Params.ContinuousControl[id]
		x := sig.Compound(p.SubVariables, t)
		y := lerpTable(p.FunctionX, p.FunctionY, x)
		if y < p.Min {
			y = p.Min
		}
		if y > p.Max {
			y = p.Max
		}
		writeFlowRate(c.Model, p.Target, y)
	}
}

// WriteControlledFlowRate exposes writeFlowRate for callers outside this
// package (the allocation pipeline's writeback, spec.md §4.7 step 6).
func WriteControlledFlowRate(m *inp.Model, target graph.NodeID, v float64) {
	writeFlowRate(m, target, v)
}

// writeFlowRate sets a controlled flow_rate on whichever flow_rate-bearing
// node type Target names (spec.md §4.8 targets "flow_rate").
func writeFlowRate(m *inp.Model, target graph.NodeID, v float64) {
	if p, ok := m.Params.Pump[target]; ok {
		p.FlowRate.SetControl(v)
		return
	}
	if o, ok := m.Params.Outlet[target]; ok {
		o.FlowRate.SetControl(v)
	}
}

// lerpTable linearly interpolates y=f(x) over sorted breakpoints, clamping
// to the end values outside the table's range.
func lerpTable(xs, ys []float64, x float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	if x <= xs[0] {
		return ys[0]
	}
	if x >= xs[n-1] {
		return ys[n-1]
	}
	for i := 1; i < n; i++ {
		if x <= xs[i] {
			frac := (x - xs[i-1]) / (xs[i] - xs[i-1])
			return ys[i-1] + frac*(ys[i]-ys[i-1])
		}
	}
	return ys[n-1]
}
