package control

import (
	"strings"

	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
	"github.com/ribasim/ribasim-go/internal/rlog"
)

// DiscreteEvent is one recorded (time, control_node_id, truth_state,
// control_state) transition (spec.md §4.8).
type DiscreteEvent struct {
	T           float64
	ControlNode graph.NodeID
	TruthState  string
	ControlState string
}

// Discrete runs the DiscreteControl state machine for every control node:
// hysteresis bits per threshold, concatenated into a truth-state key, and
// looked up in each node's truth_state -> control_state dictionary.
type Discrete struct {
	Model *inp.Model
	bits  map[graph.NodeID][]bool // current truth bits, flattened across compound variables/thresholds
	state map[graph.NodeID]string // current control_state name
}

func NewDiscrete(m *inp.Model) *Discrete {
	return &Discrete{Model: m, bits: map[graph.NodeID][]bool{}, state: map[graph.NodeID]string{}}
}

// Step evaluates every DiscreteControl node's compound variables against
// their thresholds and applies any control-state transitions, returning the
// events recorded this step (spec.md §4.6 "DiscreteControl transition").
func (d *Discrete) Step(sig *Signals, t float64) []DiscreteEvent {
	var ids []graph.NodeID
	for id := range d.Model.Params.DiscreteControl {
		ids = append(ids, id)
	}
	sortNodeIDs(ids)

	var events []DiscreteEvent
	for _, id := range ids {
		p := d.Model.Params.DiscreteControl[id]
		prev := d.bits[id]
		next := make([]bool, 0, len(prev))
		for _, cv := range p.CompoundVariables {
			val := sig.Compound(cv.SubVariables, t)
			for _, th := range cv.Thresholds {
				var bit bool
				if k := len(next); k < len(prev) {
					bit = prev[k]
				}
				if val >= th.High {
					bit = true
				} else if val <= th.Low {
					bit = false
				}
				next = append(next, bit)
			}
		}
		d.bits[id] = next

		key := truthKey(next)
		cs, ok := lookupControlState(p.ControlStateMap, key)
		if !ok {
			rlog.Warn("control: node %s has no control_state mapped for truth_state %q", id, key)
			continue
		}
		if d.state[id] == cs {
			continue
		}
		d.state[id] = cs
		applyControlState(d.Model, p.Targets, cs)
		events = append(events, DiscreteEvent{T: t, ControlNode: id, TruthState: key, ControlState: cs})
	}
	return events
}

func truthKey(bits []bool) string {
	var b strings.Builder
	for _, bit := range bits {
		if bit {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// lookupControlState matches a concrete truth_state key against the
// dictionary, preferring an exact match, then the most specific '*'
// wildcard pattern (fewest wildcard characters) that matches it (spec.md
// §4.8 "total over reachable truth states").
func lookupControlState(m map[string]string, key string) (string, bool) {
	if cs, ok := m[key]; ok {
		return cs, true
	}
	bestWildcards := -1
	best := ""
	found := false
	for pattern, cs := range m {
		if len(pattern) != len(key) {
			continue
		}
		wildcards := 0
		match := true
		for i := 0; i < len(pattern); i++ {
			if pattern[i] == '*' {
				wildcards++
				continue
			}
			if pattern[i] != key[i] {
				match = false
				break
			}
		}
		if match && (bestWildcards < 0 || wildcards < bestWildcards) {
			bestWildcards = wildcards
			best = cs
			found = true
		}
	}
	return best, found
}

// applyControlState patches every DiscreteControl target with the variant
// the new control state selects (spec.md §4.8): a TabulatedRatingCurve
// switches its active table, a Pump/Outlet switches its flow_rate variant.
func applyControlState(m *inp.Model, targets []graph.NodeID, cs string) {
	for _, id := range targets {
		switch id.Type {
		case graph.TabulatedRatingCurve:
			if trc, ok := m.Params.TabulatedRatingCurve[id]; ok {
				if _, ok := trc.Tables[cs]; ok {
					trc.ActiveTable = cs
				}
			}
		case graph.Pump:
			if p, ok := m.Params.Pump[id]; ok {
				if v, ok := p.ControlVariants[cs]; ok {
					p.FlowRate.SetControl(v)
				}
			}
		case graph.Outlet:
			if o, ok := m.Params.Outlet[id]; ok {
				if v, ok := o.ControlVariants[cs]; ok {
					o.FlowRate.SetControl(v)
				}
			}
		}
	}
}
