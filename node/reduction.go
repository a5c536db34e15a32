// Package node implements the per-connector-type flow formulas (C3): a
// capability-interface + tagged-variant registry in the same
// "polymorphism without classes" shape as the teacher's ele.Element +
// ele/factory.go (spec.md §9 "Polymorphism without classes").
package node

// Reduction returns ρ(x, ε): 0 for x <= 0, 1 for x >= ε, and a C¹ cubic
// smoothing in between (spec.md §4.3 "Reduction factor ρ(x, ε)"). The
// smoothstep 3s²-2s³ is C¹ at both ends (zero derivative at s=0 and s=1),
// matching the "C¹ at both ends" testable property in spec.md §8.
func Reduction(x, eps float64) float64 {
	if eps <= 0 {
		if x <= 0 {
			return 0
		}
		return 1
	}
	if x <= 0 {
		return 0
	}
	if x >= eps {
		return 1
	}
	s := x / eps
	return s * s * (3 - 2*s)
}

// ReductionDeriv returns dρ/dx, used by the forward-mode / finite-difference
// Jacobian (C4) when a node's reduction factor depends on a basin storage
// or a head difference that is itself being differentiated.
func ReductionDeriv(x, eps float64) float64 {
	if eps <= 0 || x <= 0 || x >= eps {
		return 0
	}
	s := x / eps
	return 6 * s * (1 - s) / eps
}

// Default smoothing widths (spec.md §4.3): storage in m^3, head in m.
const (
	EpsStorage = 10.0
	EpsHead    = 0.02
)

// SignSmooth returns a C¹ smoothing of sign(dh) at zero, used by
// ManningResistance (spec.md §4.3 "smoothed sign(Δh) at zero"). It equals
// -1/+1 outside [-eps, eps] and interpolates smoothly through 0 at dh=0.
func SignSmooth(dh, eps float64) float64 {
	if dh <= -eps {
		return -1
	}
	if dh >= eps {
		return 1
	}
	s := dh / eps
	return s * (3 - s*s) / 2 // odd, C¹, matches ±1 with zero slope at the bounds
}
