package allocation

import (
	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/node"
	"github.com/ribasim/ribasim-go/state"
)

// linearizeEps is the central finite-difference step used for every
// linearizable connector's ∂q/∂h. TabulatedRatingCurve has no analytic
// FlowDual (node/connector.go), so all three linearizable types share one
// finite-difference path instead of mixing an analytic derivative in for
// two of three and a numeric one for the third.
const linearizeEps = 1e-4

var linearizable = map[graph.NodeType]bool{
	graph.LinearResistance:     true,
	graph.ManningResistance:    true,
	graph.TabulatedRatingCurve: true,
}

// buildLinearizedRelations pins each linearizable connector's flow variable
// to a first-order Taylor expansion around the current state (spec.md §4.7
// step 3 "linearized connector relations"):
//
//	q = q0 + ∂q/∂h_up·Δh_up + ∂q/∂h_down·Δh_down
//
// Δh is expressed through the affected basin's own varStorageChange
// variable via Profile.SlopeAt's dlevel/dstorage; a head that belongs to a
// non-basin node (boundary, terminal) is constant over the allocation step
// and so contributes no LP term, only the q0 baseline already captures it.
func (n *Network) buildLinearizedRelations(m *inp.Model, t float64, headAt func(graph.NodeID, float64) float64, storageAt func(graph.NodeID) float64) {
	for idx, slot := range n.edgeOf {
		e := slot.Edge
		if !linearizable[e.From.Type] {
			continue
		}
		conn := node.New(e.From, m.Params)
		if conn == nil {
			continue
		}

		var hUp, sUp float64
		if slot.HasUpstream {
			hUp = headAt(slot.Upstream, t)
			sUp = storageAt(slot.Upstream)
		} else {
			sUp = state.EpsLargeStorage
		}
		hDown := headAt(e.To, t)

		q0 := conn.Flow(node.Inputs{T: t, HUp: hUp, HDown: hDown, SUp: sUp})
		dqdHUp := (conn.Flow(node.Inputs{T: t, HUp: hUp + linearizeEps, HDown: hDown, SUp: sUp}) -
			conn.Flow(node.Inputs{T: t, HUp: hUp - linearizeEps, HDown: hDown, SUp: sUp})) / (2 * linearizeEps)
		dqdHDown := (conn.Flow(node.Inputs{T: t, HUp: hUp, HDown: hDown + linearizeEps, SUp: sUp}) -
			conn.Flow(node.Inputs{T: t, HUp: hUp, HDown: hDown - linearizeEps, SUp: sUp})) / (2 * linearizeEps)

		row := Row{Name: "lin_" + e.ID, Coef: map[int]float64{idx: 1}, Sense: EQ, RHS: q0}
		if slot.HasUpstream {
			if dsIdx, ok := n.VarIdx[VarRef{Kind: varStorageChange, Node: slot.Upstream}]; ok {
				slope := m.Params.Basin[slot.Upstream].Profile.SlopeAt(storageAt(slot.Upstream))
				row.Coef[dsIdx] -= dqdHUp * slope
			}
		}
		if dsIdx, ok := n.VarIdx[VarRef{Kind: varStorageChange, Node: e.To}]; ok {
			slope := m.Params.Basin[e.To].Profile.SlopeAt(storageAt(e.To))
			row.Coef[dsIdx] -= dqdHDown * slope
		}
		n.Problem.Rows = append(n.Problem.Rows, row)
	}
}
