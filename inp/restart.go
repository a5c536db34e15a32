package inp

import (
	"bufio"
	"fmt"
	"os"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/graph"
)

// ReadBasinState parses a warm-restart file written by
// accounting.WriteBasinState: one "type index subnetwork level" row per
// basin (spec.md §6 "Warm restart is supported").
func ReadBasinState(path string) (map[graph.NodeID]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, chk.Err("inp: cannot open restart file %q: %v", path, err)
	}
	defer f.Close()

	out := map[graph.NodeID]float64{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		var typ string
		var index, subnetwork int
		var level float64
		if _, err := fmt.Sscanf(line, "%s %d %d %g", &typ, &index, &subnetwork, &level); err != nil {
			return nil, chk.Err("inp: malformed restart row %q: %v", line, err)
		}
		id := graph.NodeID{Type: graph.NodeType(typ), Index: index, Subnetwork: subnetwork}
		out[id] = level
	}
	if err := sc.Err(); err != nil {
		return nil, chk.Err("inp: reading restart file %q: %v", path, err)
	}
	return out, nil
}

// ApplyBasinState overwrites each matched basin's InitialLevel, letting a
// previous run's final state seed this one instead of the Basin_state
// table (spec.md §6's warm-restart contract takes precedence over the
// static table when both are present).
func ApplyBasinState(m *Model, levels map[graph.NodeID]float64) {
	for id, lvl := range levels {
		if bp, ok := m.Params.Basin[id]; ok {
			bp.InitialLevel = lvl
		}
	}
}
