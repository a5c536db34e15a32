package subgrid

import (
	"testing"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
)

// Test_eval01 checks grouping by basin and ascending-subgrid_id ordering.
func Test_eval01(tst *testing.T) {

	chk.PrintTitle("eval01")

	b := graph.NodeID{Type: graph.Basin, Index: 1, Subnetwork: 1}
	sm2, err := inp.NewSubgridMap(2, b, []float64{0, 10}, []float64{1, 11})
	if err != nil {
		tst.Fatalf("NewSubgridMap: %v", err)
	}
	sm1, err := inp.NewSubgridMap(1, b, []float64{0, 10}, []float64{2, 12})
	if err != nil {
		tst.Fatalf("NewSubgridMap: %v", err)
	}

	m := &inp.Model{Subgrids: []*inp.SubgridMap{sm2, sm1}}
	ip := New(m)

	if !ip.HasSubgrid(b) {
		tst.Fatalf("expected basin to carry a subgrid mapping")
	}
	levels := ip.Eval(b, 5)
	if len(levels) != 2 {
		tst.Fatalf("expected 2 subgrid elements, got %d", len(levels))
	}
	if levels[0].SubgridID != 1 || levels[1].SubgridID != 2 {
		tst.Errorf("expected ascending subgrid_id order, got %d, %d", levels[0].SubgridID, levels[1].SubgridID)
	}
	chk.Scalar(tst, "element 1 level", 1e-9, levels[0].Level, 7)
	chk.Scalar(tst, "element 2 level", 1e-9, levels[1].Level, 6)

	other := graph.NodeID{Type: graph.Basin, Index: 2, Subnetwork: 1}
	if ip.HasSubgrid(other) {
		tst.Errorf("unrelated basin should carry no subgrid mapping")
	}
}
