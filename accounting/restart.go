package accounting

import (
	"bufio"
	"fmt"
	"os"
	"sort"

	"github.com/cpmech/gosl/chk"
)

// WriteBasinState dumps each basin's final level to path, one
// "type index subnetwork level" line per basin, the shape inp.ReadBasinState
// reads back, so a finished run's end state becomes the next run's initial
// condition (spec.md §6 "Warm restart is supported"). Rows are sorted by
// the basin id's string form so
// the file is byte-identical across repeated runs of the same model,
// matching the determinism the LP serialization also holds to.
func WriteBasinState(path string, rows []Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return chk.Err("accounting: cannot create restart file %q: %v", path, err)
	}
	defer f.Close()

	sorted := append([]Snapshot(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Basin.String() < sorted[j].Basin.String() })

	w := bufio.NewWriter(f)
	for _, r := range sorted {
		fmt.Fprintf(w, "%s %d %d %.17g\n", r.Basin.Type, r.Basin.Index, r.Basin.Subnetwork, r.Level)
	}
	return w.Flush()
}
