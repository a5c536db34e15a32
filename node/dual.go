package node

import "math"

// Dual carries a value and its derivative with respect to one designated
// state column: the forward-mode AD "dual-number carrier" of spec.md §4.4.
// Arithmetic on Dual propagates derivatives the same way gofem propagates
// stress/strain tangents through its constitutive models, just with a
// scalar tangent instead of a tensor one.
type Dual struct {
	V float64
	D float64
}

func ConstDual(v float64) Dual { return Dual{V: v} }

// SeedDual returns the dual number representing the differentiation
// variable itself: value v, derivative 1.
func SeedDual(v float64) Dual { return Dual{V: v, D: 1} }

func (a Dual) Add(b Dual) Dual     { return Dual{a.V + b.V, a.D + b.D} }
func (a Dual) Sub(b Dual) Dual     { return Dual{a.V - b.V, a.D - b.D} }
func (a Dual) Mul(b Dual) Dual     { return Dual{a.V * b.V, a.D*b.V + a.V*b.D} }
func (a Dual) Scale(k float64) Dual { return Dual{a.V * k, a.D * k} }

func (a Dual) Div(b Dual) Dual {
	return Dual{a.V / b.V, (a.D*b.V - a.V*b.D) / (b.V * b.V)}
}

func (a Dual) Sqrt() Dual {
	s := math.Sqrt(a.V)
	if s == 0 {
		return Dual{0, 0}
	}
	return Dual{s, a.D / (2 * s)}
}

func (a Dual) Abs() Dual {
	if a.V < 0 {
		return Dual{-a.V, -a.D}
	}
	return a
}

// PowConst raises a to a fixed real exponent p, propagating the derivative
// via the power rule d/dx(x^p) = p·x^(p-1).
func (a Dual) PowConst(p float64) Dual {
	if a.V <= 0 {
		return Dual{0, 0}
	}
	v := math.Pow(a.V, p)
	return Dual{v, p * math.Pow(a.V, p-1) * a.D}
}

func DualMax(a Dual, b float64) Dual {
	if a.V >= b {
		return a
	}
	return Dual{b, 0}
}

// ReductionDual is the dual-arithmetic twin of Reduction: the same cubic
// smoothstep, differentiated by hand instead of through finite differences,
// so the AD path never loses precision at the reduction-factor kink
// (spec.md §4.4).
func ReductionDual(x Dual, eps float64) Dual {
	if eps <= 0 {
		if x.V <= 0 {
			return Dual{0, 0}
		}
		return Dual{1, 0}
	}
	if x.V <= 0 {
		return Dual{0, 0}
	}
	if x.V >= eps {
		return Dual{1, 0}
	}
	s := x.V / eps
	rho := s * s * (3 - 2*s)
	drho := (6*s - 6*s*s) / eps * x.D
	return Dual{rho, drho}
}

// SignSmoothDual is the dual-arithmetic twin of SignSmooth.
func SignSmoothDual(dh Dual, eps float64) Dual {
	if dh.V <= -eps {
		return Dual{-1, 0}
	}
	if dh.V >= eps {
		return Dual{1, 0}
	}
	s := dh.V / eps
	val := s * (3 - s*s) / 2
	deriv := (3 - 3*s*s) / (2 * eps) * dh.D
	return Dual{val, deriv}
}

// DualInputs mirrors Inputs but carries the two state-dependent quantities
// (upstream head, upstream storage) as Dual numbers seeded against whichever
// state column the Jacobian evaluator is currently differentiating.
type DualInputs struct {
	T     float64
	HUp   Dual
	HDown Dual
	SUp   Dual
}

// DualConnector is the optional capability a flow law may implement to
// supply its own analytic derivative instead of falling back to the
// finite-difference evaluator in jac (spec.md §4.4 "evaluated either by
// forward-mode automatic differentiation ... or by finite differences").
type DualConnector interface {
	FlowDual(in DualInputs) Dual
}
