package inp

import (
	"sort"

	"github.com/cpmech/gosl/chk"
)

// ExtrapPolicy controls how a TimeSeries behaves outside its defined range
// (spec.md §4.1 "explicit left/right extrapolation policy").
type ExtrapPolicy int

const (
	ExtrapConstant ExtrapPolicy = iota
	ExtrapLinear
	ExtrapPeriodic
)

// TimeSeries is a piecewise-linear scalar parameter, following the same
// "register a named function, evaluate by F(t)" idiom as the teacher's
// fun.New/fun.TimeSpace, specialised to Ribasim's per-breakpoint
// interpolation + explicit extrapolation policy (spec.md §4.1, §7 warning
// about series that do not cover the simulation window).
type TimeSeries struct {
	Times  []float64
	Values []float64
	Left   ExtrapPolicy
	Right  ExtrapPolicy

	// idx holds the breakpoint interval last set by RefreshIndex; At does
	// not read it and searches the breakpoints on every call.
	idx int
}

// NewTimeSeries validates and builds a time series sorted by time, per
// spec.md §6 "Time tables are loaded sorted by (node_id, time)".
func NewTimeSeries(times, values []float64, left, right ExtrapPolicy) (*TimeSeries, error) {
	if len(times) != len(values) {
		return nil, chk.Err("timeseries: times and values length mismatch: %d != %d", len(times), len(values))
	}
	if len(times) == 0 {
		return nil, chk.Err("timeseries: empty series")
	}
	for i := 1; i < len(times); i++ {
		if times[i] <= times[i-1] {
			return nil, chk.Err("timeseries: times must be strictly increasing at index %d", i)
		}
	}
	return &TimeSeries{Times: times, Values: values, Left: left, Right: right}, nil
}

// Constant builds a degenerate, time-invariant series.
func Constant(v float64) *TimeSeries {
	return &TimeSeries{Times: []float64{0}, Values: []float64{v}, Left: ExtrapConstant, Right: ExtrapConstant}
}

// RefreshIndex updates the cached breakpoint interval for time t. At does
// not use the cached value.
func (ts *TimeSeries) RefreshIndex(t float64) {
	ts.idx = sort.Search(len(ts.Times), func(i int) bool { return ts.Times[i] > t })
}

// At evaluates the series at time t using linear interpolation inside its
// domain and the configured policy outside it. Periodic extrapolation
// wraps into [Times[0], Times[n-1]); at the wrap instant itself the left
// limit is used (spec.md §9 Open Question (b)).
func (ts *TimeSeries) At(t float64) float64 {
	n := len(ts.Times)
	t0, t1 := ts.Times[0], ts.Times[n-1]

	if t < t0 {
		switch ts.Left {
		case ExtrapConstant:
			return ts.Values[0]
		case ExtrapLinear:
			return ts.linearAt(t, 0)
		case ExtrapPeriodic:
			t = ts.wrap(t, t0, t1)
			if t == t0 {
				// a wrap instant: the left limit is the end-of-period value.
				return ts.Values[n-1]
			}
		}
	} else if t > t1 {
		switch ts.Right {
		case ExtrapConstant:
			return ts.Values[n-1]
		case ExtrapLinear:
			return ts.linearAt(t, n-2)
		case ExtrapPeriodic:
			t = ts.wrap(t, t0, t1)
			if t == t0 {
				// a wrap instant: the left limit is the end-of-period value.
				return ts.Values[n-1]
			}
		}
	} else if t == t1 {
		// left-limit tie-break exactly at the final breakpoint, which also
		// doubles as the wraparound instant for periodic series.
		return ts.linearAt(t, n-2)
	}

	i := sort.Search(n, func(i int) bool { return ts.Times[i] > t }) - 1
	if i < 0 {
		i = 0
	}
	if i >= n-1 {
		i = n - 2
	}
	return ts.linearAt(t, i)
}

func (ts *TimeSeries) linearAt(t float64, i int) float64 {
	if len(ts.Times) == 1 {
		return ts.Values[0]
	}
	t0, t1 := ts.Times[i], ts.Times[i+1]
	v0, v1 := ts.Values[i], ts.Values[i+1]
	frac := (t - t0) / (t1 - t0)
	return v0 + frac*(v1-v0)
}

func (ts *TimeSeries) wrap(t, t0, t1 float64) float64 {
	period := t1 - t0
	if period <= 0 {
		return t0
	}
	offset := t - t0
	offset -= period * floorDiv(offset, period)
	return t0 + offset
}

func floorDiv(a, b float64) float64 {
	q := a / b
	if q < 0 {
		return float64(int64(q) - 1)
	}
	return float64(int64(q))
}
