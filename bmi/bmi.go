// Package bmi implements the Basic Model Interface bindings (spec.md §5):
// update, update_until(t), get_value_ptr(name) and finalize, laid directly
// on top of the same callback.Scheduler cmd/ribasim drives, so a scripted
// multi-stage run and a one-shot CLI run share one code path -- the way
// the teacher's fem.Main plays both the CLI-driven and the library-driven
// role for a single FE analysis.
package bmi

import (
	"fmt"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/callback"
	"github.com/ribasim/ribasim-go/inp"
)

// Model wraps one callback.Scheduler behind the four BMI verbs.
type Model struct {
	sc       *callback.Scheduler
	final    bool
	canceled func() bool
}

// New constructs a Model ready for stepping from m.Config.StartTime.
// canceled, if non-nil, is polled between steps so an external driver can
// request early termination (spec.md §5 "cancellation is modelled by
// letting the driver exit at the next accepted step after an external
// flag is set").
func New(m *inp.Model, t0, tEnd float64, canceled func() bool) *Model {
	return &Model{sc: callback.New(m, t0, tEnd), canceled: canceled}
}

// CurrentTime returns the model's current simulation time.
func (b *Model) CurrentTime() float64 { return b.sc.Driver.T }

// Update advances the model to the next callback boundary (save, allocation
// or end time), running every callback due there (spec.md §5 "update").
func (b *Model) Update() error {
	if b.final {
		return chk.Err("bmi: Update called after Finalize")
	}
	return b.sc.Step()
}

// UpdateUntil advances the model to time t, which must not be earlier than
// CurrentTime (spec.md §5 "update_until may only move time forward; going
// backward is a user error").
func (b *Model) UpdateUntil(t float64) error {
	if b.final {
		return chk.Err("bmi: UpdateUntil called after Finalize")
	}
	if t < b.sc.Driver.T-1e-12 {
		return fmt.Errorf("bmi: UpdateUntil(%g) is before current time %g", t, b.sc.Driver.T)
	}
	for b.sc.Driver.T < t {
		if b.canceled != nil && b.canceled() {
			return nil
		}
		if err := b.sc.StepTo(t); err != nil {
			return err
		}
	}
	return nil
}

// GetValuePtr returns, for "state", a borrow of the live cumulative state
// vector, valid only until the next Update call; for "storage", a freshly
// computed copy of the basin storages, not a borrow (spec.md §5
// "get_value_ptr").
func (b *Model) GetValuePtr(name string) ([]float64, error) {
	switch name {
	case "storage":
		return b.sc.Driver.Storages(), nil
	case "state":
		return b.sc.Driver.U, nil
	default:
		return nil, fmt.Errorf("bmi: unknown value %q", name)
	}
}

// Finalize releases the model; further calls to Update/UpdateUntil fail.
func (b *Model) Finalize() {
	b.final = true
}
