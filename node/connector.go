package node

import (
	"math"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
)

// Inputs bundles everything a connector's flow formula needs to evaluate Q,
// mirroring the pure-function contract of spec.md §4.3: "Every formula is
// a pure function of (params, h_up, h_down, optional control overrides)."
type Inputs struct {
	T      float64
	HUp    float64
	HDown  float64
	SUp    float64 // upstream basin storage, for the low-storage factor
}

// Connector is the capability every flow-law node type implements (spec.md
// §9's "capability interface {compute_flow, parameters, state_ref}").
type Connector interface {
	Flow(in Inputs) float64
}

// allocators mirrors the teacher's ele/factory.go SetAllocator/New pattern:
// a name->constructor registry filled by each formula file's init().
var allocators = map[graph.NodeType]func(id graph.NodeID, p *inp.ParamStore) Connector{}

func register(t graph.NodeType, fn func(id graph.NodeID, p *inp.ParamStore) Connector) {
	if _, ok := allocators[t]; ok {
		chk.Panic("node: allocator for %q already registered", t)
	}
	allocators[t] = fn
}

// New returns the Connector implementation for a node, or nil if the type
// carries no flow formula (Basin, Terminal, Junction, demand/control nodes).
func New(id graph.NodeID, p *inp.ParamStore) Connector {
	fn, ok := allocators[id.Type]
	if !ok {
		return nil
	}
	return fn(id, p)
}

type linearResistance struct{ p *inp.LinearResistanceParams }

func init() {
	register(graph.LinearResistance, func(id graph.NodeID, p *inp.ParamStore) Connector {
		return &linearResistance{p.LinearResistance[id]}
	})
}

// Flow implements spec.md §4.3: Q = clamp((h_up-h_down)/R, ±Q_max) · ρ(S_up, ε_S).
func (c *linearResistance) Flow(in Inputs) float64 {
	q := (in.HUp - in.HDown) / c.p.Resistance
	if c.p.MaxFlowRate > 0 {
		q = clamp(q, -c.p.MaxFlowRate, c.p.MaxFlowRate)
	}
	return q * Reduction(in.SUp, EpsStorage)
}

// FlowDual is the analytic-derivative twin of Flow (spec.md §4.4 forward
// AD path). The clamp is differentiated as 0 outside the active range,
// matching how a clamped value carries no sensitivity to its input there.
func (c *linearResistance) FlowDual(in DualInputs) Dual {
	q := in.HUp.Sub(in.HDown).Scale(1 / c.p.Resistance)
	if c.p.MaxFlowRate > 0 {
		if q.V > c.p.MaxFlowRate {
			q = Dual{c.p.MaxFlowRate, 0}
		} else if q.V < -c.p.MaxFlowRate {
			q = Dual{-c.p.MaxFlowRate, 0}
		}
	}
	return q.Mul(ReductionDual(in.SUp, EpsStorage))
}

type manningResistance struct{ p *inp.ManningResistanceParams }

func init() {
	register(graph.ManningResistance, func(id graph.NodeID, p *inp.ParamStore) Connector {
		return &manningResistance{p.ManningResistance[id]}
	})
}

// Flow implements spec.md §4.3 Manning's equation with a rectangular
// profile and a C¹-smoothed sign of the head difference at zero.
func (c *manningResistance) Flow(in Inputs) float64 {
	dh := in.HUp - in.HDown
	// average depth across both ends using the node's own bed slope as a
	// simple rectangular-profile approximation (width is constant).
	depth := math.Max(0, (in.HUp+in.HDown)/2-c.p.Slope*c.p.Length/2)
	area := c.p.Width * depth
	if area <= 0 {
		return 0
	}
	wettedPerimeter := c.p.Width + 2*depth
	hydraulicRadius := area / wettedPerimeter
	mag := area * math.Sqrt(math.Abs(dh)/c.p.Length) / c.p.Roughness * math.Pow(hydraulicRadius, 2.0/3.0)
	return SignSmooth(dh, EpsHead) * mag
}

// FlowDual is the analytic-derivative twin of Flow.
func (c *manningResistance) FlowDual(in DualInputs) Dual {
	dh := in.HUp.Sub(in.HDown)
	depth := DualMax(in.HUp.Add(in.HDown).Scale(0.5).Sub(ConstDual(c.p.Slope*c.p.Length/2)), 0)
	area := depth.Scale(c.p.Width)
	if area.V <= 0 {
		return Dual{0, 0}
	}
	wettedPerimeter := ConstDual(c.p.Width).Add(depth.Scale(2))
	hydraulicRadius := area.Div(wettedPerimeter)
	mag := area.Mul(dh.Abs().Scale(1 / c.p.Length).Sqrt()).Scale(1 / c.p.Roughness).Mul(hydraulicRadius.PowConst(2.0 / 3.0))
	return SignSmoothDual(dh, EpsHead).Mul(mag)
}

type tabulatedRatingCurve struct{ p *inp.TabulatedRatingCurveParams }

func init() {
	register(graph.TabulatedRatingCurve, func(id graph.NodeID, p *inp.ParamStore) Connector {
		return &tabulatedRatingCurve{p.TabulatedRatingCurve[id]}
	})
}

// Flow implements spec.md §4.3: Q = interp(level_table, flow_table, h_up).
func (c *tabulatedRatingCurve) Flow(in Inputs) float64 {
	table, ok := c.p.Tables[c.p.ActiveTable]
	if !ok {
		return 0
	}
	return table.Q(in.HUp)
}

// SetActiveTable switches the rating-curve table in use by name (spec.md §3 "multiple named tables selectable by control").
func (c *tabulatedRatingCurve) SetActiveTable(name string) {
	c.p.ActiveTable = name
}

type pump struct {
	p *inp.PumpParams
}

func init() {
	register(graph.Pump, func(id graph.NodeID, p *inp.ParamStore) Connector {
		return &pump{p.Pump[id]}
	})
}

// Flow implements spec.md §4.3: Q = min(q_target, Q_max) · ρ(S_up, ε_S).
func (c *pump) Flow(in Inputs) float64 {
	q := c.p.FlowRate.Get(in.T)
	if c.p.MaxFlowRate > 0 {
		q = math.Min(q, c.p.MaxFlowRate)
	}
	q = math.Max(q, c.p.MinFlowRate)
	return q * Reduction(in.SUp, EpsStorage)
}

type outlet struct {
	p *inp.OutletParams
}

func init() {
	register(graph.Outlet, func(id graph.NodeID, p *inp.ParamStore) Connector {
		return &outlet{p.Outlet[id]}
	})
}

// Flow implements spec.md §4.3: Q = min(q_target, Q_max) · ρ(S_up) ·
// ρ(h_up - min_upstream_level).
func (c *outlet) Flow(in Inputs) float64 {
	q := c.p.FlowRate.Get(in.T)
	if c.p.MaxFlowRate > 0 {
		q = math.Min(q, c.p.MaxFlowRate)
	}
	q = math.Max(q, c.p.MinFlowRate)
	q *= Reduction(in.SUp, EpsStorage)
	q *= Reduction(in.HUp-c.p.MinUpstreamLevel, EpsHead)
	return q
}

type flowBoundary struct{ p *inp.FlowBoundaryParams }

func init() {
	register(graph.FlowBoundary, func(id graph.NodeID, p *inp.ParamStore) Connector {
		return &flowBoundary{p.FlowBoundary[id]}
	})
}

// Flow implements spec.md §4.3: Q = schedule(t). The series built by
// inp.buildBoundaries is interpolated linearly between breakpoints and held
// constant outside them; interpolation.flow_boundary and
// block_transition_period are not read, so no block interpolation is applied.
func (c *flowBoundary) Flow(in Inputs) float64 {
	return c.p.Flow.At(in.T)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
