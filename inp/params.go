package inp

import "github.com/ribasim/ribasim-go/graph"

// Per-node-type static and time-series parameter tables (spec.md §4.1
// "Parameter tables are per node type, indexed by the node's local
// index"). Each scalar that may vary in time is a *TimeSeries; everything
// else is a plain field set once at construction.

type BasinParams struct {
	Profile          *Profile
	Precipitation    *TimeSeries
	PotentialEvap    *TimeSeries
	Drainage         *TimeSeries
	Infiltration     *TimeSeries
	LowStorageEps    float64 // ε_S, default 10 m^3 (spec.md §4.3)
	InitialLevel     float64 // from the Basin / state table, converted to storage by callback.New
}

type LinearResistanceParams struct {
	Resistance float64
	MaxFlowRate float64
}

type ManningResistanceParams struct {
	Width     float64
	Length    float64
	Roughness float64 // Manning's n
	Slope     float64
}

type TabulatedRatingCurveParams struct {
	ActiveTable string
	Tables      map[string]*RatingCurve
}

type PumpParams struct {
	FlowRate    *Cell // controllable: static, time-series, or control-set
	MaxFlowRate float64
	MinFlowRate float64
	// ControlVariants maps a DiscreteControl control_state name to the
	// flow_rate that state installs on FlowRate (spec.md §4.8); nil if this
	// pump is never a DiscreteControl target.
	ControlVariants map[string]float64
}

type OutletParams struct {
	FlowRate        *Cell
	MaxFlowRate     float64
	MinFlowRate     float64
	MinUpstreamLevel float64
	ControlVariants map[string]float64
}

type FlowBoundaryParams struct {
	Flow *TimeSeries
	// SourcePriority orders this boundary against other water sources for
	// allocation's source-priority tie-break term (spec.md §4.7 step 4b);
	// 0 means unranked and contributes no tie-break term.
	SourcePriority int
}

type LevelBoundaryParams struct {
	Level *TimeSeries
	// SourcePriority, see FlowBoundaryParams.SourcePriority.
	SourcePriority int
}

type UserDemandParams struct {
	DemandByPriority map[int]*TimeSeries
	ReturnFactor     float64
}

type FlowDemandParams struct {
	Target   graph.NodeID
	Priority int
	Demand   *TimeSeries
}

type LevelDemandParams struct {
	MinLevel *TimeSeries
	MaxLevel *TimeSeries
	// Priority is the goal-programming round this basin's level-demand
	// error competes in, the same demand_priority vocabulary UserDemand
	// uses (spec.md §4.7 step 4a).
	Priority int
}

// SubVariable is one listened signal feeding a DiscreteControl compound
// variable (spec.md §4.8): {listen_node_id, variable_name, weight,
// look_ahead}. The compound variable's value is the weighted sum of its
// sub-variables, each optionally forecast look_ahead seconds ahead using
// the listened time series (0 for state-derived variables like "level").
type SubVariable struct {
	ListenNodeID graph.NodeID
	Variable     string
	Weight       float64
	LookAhead    float64
}

// Threshold is one crossing level with a hysteresis band: the bit rises
// when the compound value reaches High and falls when it reaches Low
// (spec.md §4.8 "A bit rises when value >= high and falls when value <= low").
type Threshold struct {
	Low, High float64
}

// CompoundVariable groups sub-variables and the sorted thresholds that turn
// its combined value into one bit per threshold of the node's truth state.
type CompoundVariable struct {
	SubVariables []SubVariable
	Thresholds   []Threshold
}

// DiscreteControlParams holds the compound variables whose truth-state bits
// concatenate (in CompoundVariables order) into a lookup key, and the
// truth_state -> control_state dictionary with '*' wildcard expansion
// (spec.md §4.8).
type DiscreteControlParams struct {
	CompoundVariables []CompoundVariable
	ControlStateMap   map[string]string // pattern of '0'/'1'/'*' -> control state name
	Targets           []graph.NodeID    // nodes patched on a control-state change
}

// ContinuousControlParams maps one compound variable (reusing the same
// sub-variable shape as DiscreteControl) through a piecewise-linear
// function onto a target parameter, clamped to [Min, Max] (spec.md §4.8).
type ContinuousControlParams struct {
	SubVariables []SubVariable
	FunctionX    []float64 // breakpoints, x: compound variable value
	FunctionY    []float64 // breakpoints, y: target parameter value
	Target       graph.NodeID
	Min, Max     float64
}

// PidControlParams configures a PID loop whose state extends the
// integration vector by one entry, the integral term (spec.md §4.6 "PID");
// the derivative term is not a state entry. output = Kp*e + Ki*integral +
// Kd*dlevel/dt.
type PidControlParams struct {
	Listen   graph.NodeID // the level-producing node (a Basin)
	Target   graph.NodeID // the pump/outlet whose flow_rate is written
	SetPoint *TimeSeries
	Kp, Ki, Kd float64
	Min, Max   float64
}

// ParamStore is the per-type indexed parameter table collection (spec.md
// §4.1), keyed by graph.NodeID for direct lookup from formulas (C3) and
// the control layer (C8).
type ParamStore struct {
	Basin                map[graph.NodeID]*BasinParams
	LinearResistance     map[graph.NodeID]*LinearResistanceParams
	ManningResistance    map[graph.NodeID]*ManningResistanceParams
	TabulatedRatingCurve map[graph.NodeID]*TabulatedRatingCurveParams
	Pump                 map[graph.NodeID]*PumpParams
	Outlet               map[graph.NodeID]*OutletParams
	FlowBoundary         map[graph.NodeID]*FlowBoundaryParams
	LevelBoundary         map[graph.NodeID]*LevelBoundaryParams
	UserDemand           map[graph.NodeID]*UserDemandParams
	FlowDemand           map[graph.NodeID]*FlowDemandParams
	LevelDemand          map[graph.NodeID]*LevelDemandParams
	DiscreteControl      map[graph.NodeID]*DiscreteControlParams
	ContinuousControl    map[graph.NodeID]*ContinuousControlParams
	PidControl           map[graph.NodeID]*PidControlParams
}

func NewParamStore() *ParamStore {
	return &ParamStore{
		Basin:                make(map[graph.NodeID]*BasinParams),
		LinearResistance:     make(map[graph.NodeID]*LinearResistanceParams),
		ManningResistance:    make(map[graph.NodeID]*ManningResistanceParams),
		TabulatedRatingCurve: make(map[graph.NodeID]*TabulatedRatingCurveParams),
		Pump:                 make(map[graph.NodeID]*PumpParams),
		Outlet:               make(map[graph.NodeID]*OutletParams),
		FlowBoundary:         make(map[graph.NodeID]*FlowBoundaryParams),
		LevelBoundary:        make(map[graph.NodeID]*LevelBoundaryParams),
		UserDemand:           make(map[graph.NodeID]*UserDemandParams),
		FlowDemand:           make(map[graph.NodeID]*FlowDemandParams),
		LevelDemand:          make(map[graph.NodeID]*LevelDemandParams),
		DiscreteControl:      make(map[graph.NodeID]*DiscreteControlParams),
		ContinuousControl:    make(map[graph.NodeID]*ContinuousControlParams),
		PidControl:           make(map[graph.NodeID]*PidControlParams),
	}
}

// Cell is the small mutable box the control layer writes into and the
// RHS/allocation layers read from, without a lock: the single-threaded
// scheduler serializes all access (spec.md §9 "Dynamic parameter
// patches"). The controlled flag distinguishes a control-held value from the node's own
// static/time-series default so writeback can be reverted when control
// releases a target.
type Cell struct {
	Static     float64
	Series     *TimeSeries
	controlled bool
	value      float64
}

// Get returns the cell's current effective value at time t.
func (c *Cell) Get(t float64) float64 {
	if c.controlled {
		return c.value
	}
	if c.Series != nil {
		return c.Series.At(t)
	}
	return c.Static
}

// SetControl writes a control- or allocation-derived value, overriding the
// static/time-series default until Release is called.
func (c *Cell) SetControl(v float64) {
	c.controlled = true
	c.value = v
}

// Release returns the cell to its static/time-series default.
func (c *Cell) Release() {
	c.controlled = false
}
