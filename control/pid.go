package control

import (
	"github.com/ribasim/ribasim-go/graph"
	"github.com/ribasim/ribasim-go/inp"
)

// Pid runs one PidControl node's loop (spec.md §4.8): the integral term is
// carried as an extra integration state so the ODE driver advances it
// exactly like any other state entry, rather than by explicit Euler
// accumulation across callback steps.
type Pid struct {
	Model *inp.Model
	Nodes []graph.NodeID // deterministic order, one integral-state slot per entry
}

// NewPid collects the model's PidControl nodes in sorted NodeID order
// (spec.md §4.7 "Determinism" applies identically to any component whose
// ordering feeds a state-vector layout).
func NewPid(m *inp.Model) *Pid {
	return &Pid{Model: m, Nodes: SortedPidNodes(m)}
}

// SortedPidNodes lists the model's PidControl node ids in deterministic
// order, exposed standalone so state.BuildLayout can size the PID
// integral-state range before a Pid is constructed.
func SortedPidNodes(m *inp.Model) []graph.NodeID {
	var ids []graph.NodeID
	for id := range m.Params.PidControl {
		ids = append(ids, id)
	}
	sortNodeIDs(ids)
	return ids
}

func sortNodeIDs(ids []graph.NodeID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && less(ids[j], ids[j-1]); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}

func less(a, b graph.NodeID) bool {
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.Index < b.Index
}

// Error returns target−level at the listened node (spec.md §4.8's e = setpoint − level).
func (p *Pid) Error(sig *Signals, id graph.NodeID, t float64) float64 {
	cfg := p.Model.Params.PidControl[id]
	level := sig.Value(cfg.Listen, "level", t, 0)
	return cfg.SetPoint.At(t) - level
}

// IntegralDeriv returns d(integral)/dt = error(t), the RHS contribution for
// this node's integral-state entry (spec.md §4.6 "the integral term... its
// derivative enters the RHS").
func (p *Pid) IntegralDeriv(sig *Signals, id graph.NodeID, t float64) float64 {
	return p.Error(sig, id, t)
}

// Output computes the controller output and writes it to the target's
// flow_rate, clamped to its bounds (spec.md §4.8).
func (p *Pid) Output(sig *Signals, id graph.NodeID, t, integral, dlevelDt float64) float64 {
	cfg := p.Model.Params.PidControl[id]
	e := p.Error(sig, id, t)
	out := cfg.Kp*e + cfg.Ki*integral + cfg.Kd*dlevelDt
	if out < cfg.Min {
		out = cfg.Min
	}
	if out > cfg.Max {
		out = cfg.Max
	}
	writeFlowRate(p.Model, cfg.Target, out)
	return out
}
