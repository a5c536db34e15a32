package allocation

import (
	"math"

	"github.com/katalvlaran/lvlath/core"
	"github.com/katalvlaran/lvlath/flow"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/internal/rlog"
	"github.com/ribasim/ribasim-go/state"
)

// PreCheck runs a cheap max-flow feasibility screen before the LP solve
// (spec.md §4.7's IIS detection is expensive; a source->sink max-flow
// against total demand catches the common "supply cannot possibly reach
// every demand" case cheaply, grounded on lvlath/flow's Dinic -- the only
// graph max-flow implementation anywhere in the example pack). It never
// blocks the LP; it only logs a warning so the operator has an early
// signal before the simplex reports an IIS.
func PreCheck(m *inp.Model, sub int, edgeOf map[int]*state.EdgeSlot) {
	g := core.NewGraph(core.WithWeighted(), core.WithDirected(true))
	const src, snk = "__source__", "__sink__"
	g.AddVertex(src)
	g.AddVertex(snk)
	seen := map[string]bool{src: true, snk: true}

	var totalDemand float64
	for id, dp := range m.Params.UserDemand {
		if id.Subnetwork != sub {
			continue
		}
		vs := nodeVertex(g, seen, id)
		var demand float64
		for _, ts := range dp.DemandByPriority {
			demand += ts.At(0)
		}
		totalDemand += demand
		if demand > 0 {
			g.AddEdge(vs, snk, int64(math.Max(demand, 1)))
		}
	}
	for id := range m.Params.FlowBoundary {
		if id.Subnetwork != sub {
			continue
		}
		vs := nodeVertex(g, seen, id)
		g.AddEdge(src, vs, int64(1e12))
	}
	for _, slot := range edgeOf {
		e := slot.Edge
		vTo := nodeVertex(g, seen, e.To)
		_, hi := flowBounds(m, slot)
		cap := int64(1e9)
		if !math.IsInf(hi, 1) {
			cap = int64(math.Max(hi, 1))
		}
		for _, up := range slot.UpstreamBasins {
			vFrom := nodeVertex(g, seen, up)
			g.AddEdge(vFrom, vTo, cap)
		}
	}

	maxFlow, _, err := flow.Dinic(g, src, snk, flow.FlowOptions{})
	if err != nil {
		rlog.Debug("allocation: subnetwork %d feasibility pre-check skipped: %v", sub, err)
		return
	}
	if maxFlow+1e-6 < totalDemand {
		rlog.Warn("allocation: subnetwork %d max achievable supply (%g) falls short of total demand (%g); expect infeasibility", sub, maxFlow, totalDemand)
	}
}

func nodeVertex(g *core.Graph, seen map[string]bool, id graph.NodeID) string {
	s := id.String()
	if !seen[s] {
		g.AddVertex(s)
		seen[s] = true
	}
	return s
}
