package node

import (
	"testing"

	"github.com/cpmech/gosl/chk"
)

func Test_reduction01(tst *testing.T) {

	chk.PrintTitle("reduction01")

	chk.Scalar(tst, "rho(-1,10)", 1e-15, Reduction(-1, 10), 0)
	chk.Scalar(tst, "rho(0,10)", 1e-15, Reduction(0, 10), 0)
	chk.Scalar(tst, "rho(10,10)", 1e-15, Reduction(10, 10), 1)
	chk.Scalar(tst, "rho(20,10)", 1e-15, Reduction(20, 10), 1)
	chk.Scalar(tst, "rho(5,10)", 1e-15, Reduction(5, 10), 0.5)

	// C1 at both ends: derivative vanishes at x=0 and x=eps.
	chk.Scalar(tst, "rho'(0,10)", 1e-15, ReductionDeriv(0, 10), 0)
	chk.Scalar(tst, "rho'(10,10)", 1e-15, ReductionDeriv(10, 10), 0)
}

func Test_signsmooth01(tst *testing.T) {

	chk.PrintTitle("signsmooth01")

	chk.Scalar(tst, "sign(-1,0.02)", 1e-15, SignSmooth(-1, 0.02), -1)
	chk.Scalar(tst, "sign(1,0.02)", 1e-15, SignSmooth(1, 0.02), 1)
	chk.Scalar(tst, "sign(0,0.02)", 1e-15, SignSmooth(0, 0.02), 0)
}
