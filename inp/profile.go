package inp

import (
	"sort"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/graph"
)

// Profile is a basin's monotonically non-decreasing piecewise-linear
// {level, area, storage} table (spec.md §3 "Basin"). Storage is the
// integral of area over level; Level(S) is its numerical inverse and
// Area(level) is a direct lookup, both by linear interpolation.
type Profile struct {
	Level   []float64
	Area    []float64
	Storage []float64 // derived: cumulative ∫area dh, Storage[0] == 0
}

// NewProfile validates and derives Storage from {level, area} (or, if the
// optional storage column was supplied, uses it directly after checking
// consistency), per spec.md §3 Invariants: "Profile tables are strictly
// increasing in level and non-decreasing in area; bottom area > 0."
func NewProfile(level, area []float64, storage []float64) (*Profile, error) {
	n := len(level)
	if n < 2 || len(area) != n {
		return nil, chk.Err("profile: level/area must have matching length >= 2, got %d/%d", n, len(area))
	}
	if area[0] <= 0 {
		return nil, chk.Err("profile: bottom area must be > 0, got %g", area[0])
	}
	for i := 1; i < n; i++ {
		if level[i] <= level[i-1] {
			return nil, chk.Err("profile: level must be strictly increasing at index %d", i)
		}
		if area[i] < area[i-1] {
			return nil, chk.Err("profile: area must be non-decreasing at index %d", i)
		}
	}
	p := &Profile{Level: level, Area: area}
	if storage != nil {
		if len(storage) != n {
			return nil, chk.Err("profile: storage column length mismatch: %d != %d", len(storage), n)
		}
		p.Storage = storage
	} else {
		p.Storage = make([]float64, n)
		for i := 1; i < n; i++ {
			dh := level[i] - level[i-1]
			// trapezoidal rule on the area(level) interpolant.
			p.Storage[i] = p.Storage[i-1] + 0.5*(area[i-1]+area[i])*dh
		}
	}
	return p, nil
}

// AreaAt returns area(level) by linear interpolation, clamped to the
// profile's bottom area below Level[0] (an empty basin still has wetted
// area at its bottom, spec.md §3).
func (p *Profile) AreaAt(level float64) float64 {
	n := len(p.Level)
	if level <= p.Level[0] {
		return p.Area[0]
	}
	if level >= p.Level[n-1] {
		return p.Area[n-1]
	}
	i := p.intervalForLevel(level)
	return lerp(p.Level[i], p.Level[i+1], p.Area[i], p.Area[i+1], level)
}

// LevelAt inverts the storage->level relation by linear interpolation
// against the derived Storage table (spec.md §8 round-trip property).
func (p *Profile) LevelAt(storage float64) float64 {
	n := len(p.Storage)
	if storage <= p.Storage[0] {
		return p.Level[0]
	}
	if storage >= p.Storage[n-1] {
		// extrapolate above the table using the top cell's area as a
		// constant cross-section, matching a prismatic overflow basin.
		extra := storage - p.Storage[n-1]
		return p.Level[n-1] + extra/p.Area[n-1]
	}
	i := sort.Search(n, func(i int) bool { return p.Storage[i] > storage }) - 1
	if i < 0 {
		i = 0
	}
	if i >= n-1 {
		i = n - 2
	}
	return lerp(p.Storage[i], p.Storage[i+1], p.Level[i], p.Level[i+1], storage)
}

// SlopeAt returns dlevel/dstorage at the given storage: the reciprocal of
// the local interval's area, since dS = area(h) dh. Used by the Jacobian's
// analytic-derivative path (jac.Evaluator) to propagate a basin storage
// sensitivity through the storage->level inversion.
func (p *Profile) SlopeAt(storage float64) float64 {
	n := len(p.Storage)
	if storage >= p.Storage[n-1] {
		return 1 / p.Area[n-1]
	}
	if storage <= p.Storage[0] {
		return 1 / p.Area[0]
	}
	i := sort.Search(n, func(i int) bool { return p.Storage[i] > storage }) - 1
	if i < 0 {
		i = 0
	}
	if i >= n-1 {
		i = n - 2
	}
	area := 0.5 * (p.Area[i] + p.Area[i+1])
	if area <= 0 {
		return 0
	}
	return 1 / area
}

// StorageAt is the forward map level->storage, used by warm-start and tests
// exercising the storage -> level -> storage round trip (spec.md §8).
func (p *Profile) StorageAt(level float64) float64 {
	n := len(p.Level)
	if level <= p.Level[0] {
		return p.Storage[0]
	}
	if level >= p.Level[n-1] {
		return p.Storage[n-1] + p.Area[n-1]*(level-p.Level[n-1])
	}
	i := p.intervalForLevel(level)
	return lerp(p.Level[i], p.Level[i+1], p.Storage[i], p.Storage[i+1], level)
}

func (p *Profile) intervalForLevel(level float64) int {
	n := len(p.Level)
	i := sort.Search(n, func(i int) bool { return p.Level[i] > level }) - 1
	if i < 0 {
		i = 0
	}
	if i >= n-1 {
		i = n - 2
	}
	return i
}

func lerp(x0, x1, y0, y1, x float64) float64 {
	if x1 == x0 {
		return y0
	}
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// RatingCurve is a TabulatedRatingCurve's Q = f(h_up) table, selectable by
// name under control (spec.md §3 "multiple named tables selectable by
// control").
type RatingCurve struct {
	Name  string
	Level []float64
	Flow  []float64
}

// NewRatingCurve validates strictly increasing levels (spec.md §4.1
// "rating curves have repeated levels" is a construction error).
func NewRatingCurve(name string, level, flow []float64) (*RatingCurve, error) {
	if len(level) != len(flow) || len(level) < 1 {
		return nil, chk.Err("rating curve %q: level/flow length mismatch", name)
	}
	for i := 1; i < len(level); i++ {
		if level[i] <= level[i-1] {
			return nil, chk.Err("rating curve %q: repeated or non-increasing level at index %d", name, i)
		}
	}
	return &RatingCurve{Name: name, Level: level, Flow: flow}, nil
}

// Q evaluates the rating curve at h_up; negative h_up yields 0 (spec.md §4.3).
func (r *RatingCurve) Q(hUp float64) float64 {
	if hUp < 0 {
		return 0
	}
	n := len(r.Level)
	if hUp <= r.Level[0] {
		return r.Flow[0]
	}
	if hUp >= r.Level[n-1] {
		return r.Flow[n-1]
	}
	i := sort.Search(n, func(i int) bool { return r.Level[i] > hUp }) - 1
	if i < 0 {
		i = 0
	}
	if i >= n-1 {
		i = n - 2
	}
	return lerp(r.Level[i], r.Level[i+1], r.Flow[i], r.Flow[i+1], hUp)
}

// SubgridMap is one subgrid element's piecewise-linear h_element = f(h_basin)
// (spec.md §4.10, C10).
type SubgridMap struct {
	SubgridID    int
	Basin        graph.NodeID
	BasinLevel   []float64
	ElementLevel []float64
}

// NewSubgridMap validates both sequences are strictly increasing and of
// equal length (spec.md §4.10).
func NewSubgridMap(subgridID int, basin graph.NodeID, basinLevel, elementLevel []float64) (*SubgridMap, error) {
	if len(basinLevel) != len(elementLevel) || len(basinLevel) < 2 {
		return nil, chk.Err("subgrid %d: sequences must have equal length >= 2", subgridID)
	}
	for i := 1; i < len(basinLevel); i++ {
		if basinLevel[i] <= basinLevel[i-1] || elementLevel[i] <= elementLevel[i-1] {
			return nil, chk.Err("subgrid %d: sequences must be strictly increasing at index %d", subgridID, i)
		}
	}
	return &SubgridMap{SubgridID: subgridID, Basin: basin, BasinLevel: basinLevel, ElementLevel: elementLevel}, nil
}

// Eval maps a basin level through f, with constant extrapolation beyond
// the table's ends.
func (m *SubgridMap) Eval(basinLevel float64) float64 {
	n := len(m.BasinLevel)
	if basinLevel <= m.BasinLevel[0] {
		return m.ElementLevel[0]
	}
	if basinLevel >= m.BasinLevel[n-1] {
		return m.ElementLevel[n-1]
	}
	i := sort.Search(n, func(i int) bool { return m.BasinLevel[i] > basinLevel }) - 1
	if i < 0 {
		i = 0
	}
	if i >= n-1 {
		i = n - 2
	}
	return lerp(m.BasinLevel[i], m.BasinLevel[i+1], m.ElementLevel[i], m.ElementLevel[i+1], basinLevel)
}
