package accounting

import (
	"testing"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/state"
)

// Test_ledgerSave01 checks that Save's balance-error identity holds exactly
// when the cumulative state and storage vectors agree (storage change ==
// inflow - outflow + precip + drainage - evap - infil), the conservation
// property spec.md §8 calls out.
func Test_ledgerSave01(tst *testing.T) {

	chk.PrintTitle("ledgerSave01")

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
	params.Basin[b1] = &inp.BasinParams{Profile: profile, LowStorageEps: 10}
	params.Basin[b2] = &inp.BasinParams{Profile: profile, LowStorageEps: 10}
	params.LinearResistance[lr] = &inp.LinearResistanceParams{Resistance: 2}

	m := &inp.Model{Config: &inp.Config{}, Registry: reg, Params: params}
	layout := state.BuildLayout(reg, nil)
	ftos := state.BuildFlowToStorage(reg, layout)

	u0 := make([]float64, layout.N)
	s0 := []float64{500, 500}
	ledger := NewLedger(m, layout, ftos, 0, u0, s0)

	u1 := append([]float64(nil), u0...)
	var edgeIdx int
	for _, slot := range layout.EdgeState {
		edgeIdx = slot.Index
	}
	u1[edgeIdx] = 10 // 10 units flowed from b1 through lr to b2
	u1[layout.Precipitation.Start] = 3
	u1[layout.Evaporation.Start+1] = 1

	s1 := []float64{500 - 10 + 3, 500 + 10 - 1}
	rows := ledger.Save(100, u1, s1)

	if len(rows) != 2 {
		tst.Fatalf("expected 2 basin snapshots, got %d", len(rows))
	}
	for _, row := range rows {
		chk.Scalar(tst, "balance_error "+row.Basin.String(), 1e-9, row.BalanceError, 0)
	}
	if Flagged(rows[0], &m.Config.Solver) {
		tst.Errorf("exact balance should never be flagged")
	}
}

// Test_flagged01 checks the absolute/relative tolerance gate.
func Test_flagged01(tst *testing.T) {

	chk.PrintTitle("flagged01")

	cfg := &inp.SolverConfig{WaterBalanceAbsTol: 1e-3, WaterBalanceRelTol: 1e-3}
	if Flagged(Snapshot{Storage: 1000, BalanceError: 1e-4}, cfg) {
		tst.Errorf("below abstol should not be flagged")
	}
	if !Flagged(Snapshot{Storage: 1000, BalanceError: 10}, cfg) {
		tst.Errorf("large error relative to storage should be flagged")
	}
}
