package allocation

import (
	"math"
	"testing"

	"github.com/cpmech/gosl/chk"
)

// Test_simplex01 solves a minimal bounded LP by hand:
// minimize -x0 - x1 subject to x0+x1 <= 4, x0 <= 3, 0<=x0,x1.
// Optimum is x0=3, x1=1, objective -4.
func Test_simplex01(tst *testing.T) {

	chk.PrintTitle("simplex01")

	p := NewProblem(2, []string{"x0", "x1"})
	p.Obj[0] = -1
	p.Obj[1] = -1
	p.Upper[0] = 3
	p.Rows = append(p.Rows, Row{Name: "cap", Coef: map[int]float64{0: 1, 1: 1}, Sense: LE, RHS: 4})

	sol, err := p.Solve()
	if err != nil {
		tst.Fatalf("Solve failed: %v", err)
	}
	if sol.Infeasible {
		tst.Fatalf("expected feasible solution")
	}
	chk.Scalar(tst, "x0", 1e-6, sol.X[0], 3)
	chk.Scalar(tst, "x1", 1e-6, sol.X[1], 1)
	chk.Scalar(tst, "objective", 1e-6, sol.Objective, -4)
}

// Test_simplex02 checks that an over-constrained equality system is
// reported infeasible rather than silently accepted.
func Test_simplex02(tst *testing.T) {

	chk.PrintTitle("simplex02")

	p := NewProblem(1, []string{"x0"})
	p.Upper[0] = 1
	p.Rows = append(p.Rows, Row{Name: "eq", Coef: map[int]float64{0: 1}, Sense: EQ, RHS: 5})

	sol, err := p.Solve()
	if err != nil {
		tst.Fatalf("Solve failed: %v", err)
	}
	if !sol.Infeasible {
		tst.Errorf("expected infeasible: x0<=1 cannot satisfy x0=5")
	}
}

// Test_simplex03 checks a negative lower bound is handled by the variable
// shift, a case every allocation storage-change variable exercises.
func Test_simplex03(tst *testing.T) {

	chk.PrintTitle("simplex03")

	p := NewProblem(1, []string{"dS"})
	p.Lower[0] = -10
	p.Upper[0] = 10
	p.Obj[0] = 1
	p.Rows = append(p.Rows, Row{Name: "fix", Coef: map[int]float64{0: 1}, Sense: EQ, RHS: -3})

	sol, err := p.Solve()
	if err != nil {
		tst.Fatalf("Solve failed: %v", err)
	}
	if sol.Infeasible {
		tst.Fatalf("expected feasible solution")
	}
	chk.Scalar(tst, "dS", 1e-6, sol.X[0], -3)
	if math.Abs(sol.Objective+3) > 1e-6 {
		tst.Errorf("objective = %g, want -3", sol.Objective)
	}
}

// Test_serializeDeterministic01 checks that Serialize's output does not
// depend on map iteration order across repeated calls on the same problem.
func Test_serializeDeterministic01(tst *testing.T) {

	chk.PrintTitle("serializeDeterministic01")

	p := NewProblem(3, []string{"x0", "x1", "x2"})
	p.Obj[0] = 1
	p.Obj[2] = -1
	p.Rows = append(p.Rows,
		Row{Name: "b", Coef: map[int]float64{1: 1, 0: 2}, Sense: LE, RHS: 4},
		Row{Name: "a", Coef: map[int]float64{2: 1}, Sense: GE, RHS: -1},
	)

	first := p.Serialize()
	for i := 0; i < 5; i++ {
		if got := p.Serialize(); got != first {
			tst.Fatalf("Serialize is not deterministic across repeated calls:\n%s\nvs\n%s", first, got)
		}
	}
}
