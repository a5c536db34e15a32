package inp

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cpmech/gosl/chk"
)

// Database opens the per-node-type input tables (spec.md §6 "Input
// tables"). Ribasim's reference implementation stores these in a single
// SQLite file (database.gpkg-style); ribasim-go reads the same shape
// through database/sql with the sqlite3 driver.
type Database struct {
	db *sql.DB
}

// OpenDatabase opens <input_dir>/database.gpkg read-only.
func OpenDatabase(inputDir string) (*Database, error) {
	path := filepath.Join(inputDir, "database.gpkg")
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, chk.Err("tables: cannot open %q: %v", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, chk.Err("tables: cannot read %q: %v", path, err)
	}
	return &Database{db: db}, nil
}

func (d *Database) Close() error { return d.db.Close() }

// StaticRow is one row of a "<NodeType>/static" table, keyed by node_id.
type StaticRow struct {
	NodeID int
	Values map[string]float64
	Text   map[string]string
}

// TimeRow is one row of a "<NodeType>/time" table, keyed by (node_id, time).
type TimeRow struct {
	NodeID int
	Time   float64
	Values map[string]float64
}

// ReadStatic loads every row of "<table>/static", sorted by node_id (spec.md
// §6 "static rows keyed by node_id").
func (d *Database) ReadStatic(table string, floatCols, textCols []string) ([]StaticRow, error) {
	cols := append(append([]string{"node_id"}, floatCols...), textCols...)
	query := fmt.Sprintf("SELECT %s FROM %q ORDER BY node_id", join(cols, ", "), table+"/static")
	rows, err := d.db.Query(query)
	if err != nil {
		return nil, chk.Err("tables: query %q failed: %v", table, err)
	}
	defer rows.Close()

	var out []StaticRow
	for rows.Next() {
		r := StaticRow{Values: map[string]float64{}, Text: map[string]string{}}
		dest := make([]interface{}, 0, len(cols))
		dest = append(dest, &r.NodeID)
		floatVals := make([]float64, len(floatCols))
		for i := range floatCols {
			dest = append(dest, &floatVals[i])
		}
		textVals := make([]string, len(textCols))
		for i := range textCols {
			dest = append(dest, &textVals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, chk.Err("tables: scan %q failed: %v", table, err)
		}
		for i, c := range floatCols {
			r.Values[c] = floatVals[i]
		}
		for i, c := range textCols {
			r.Text[c] = textVals[i]
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, rows.Err()
}

// ReadTime loads every row of "<table>/time", sorted by (node_id, time)
// (spec.md §6).
func (d *Database) ReadTime(table string, floatCols []string) ([]TimeRow, error) {
	cols := append([]string{"node_id", "time"}, floatCols...)
	query := fmt.Sprintf("SELECT %s FROM %q ORDER BY node_id, time", join(cols, ", "), table+"/time")
	rows, err := d.db.Query(query)
	if err != nil {
		return nil, chk.Err("tables: query %q failed: %v", table, err)
	}
	defer rows.Close()

	var out []TimeRow
	for rows.Next() {
		r := TimeRow{Values: map[string]float64{}}
		dest := []interface{}{&r.NodeID, &r.Time}
		vals := make([]float64, len(floatCols))
		for i := range floatCols {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, chk.Err("tables: scan %q failed: %v", table, err)
		}
		for i, c := range floatCols {
			r.Values[c] = vals[i]
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GroupByNode buckets sorted time rows by node_id, preserving time order
// within each bucket, ready for NewTimeSeries.
func GroupByNode(rows []TimeRow) map[int][]TimeRow {
	out := map[int][]TimeRow{}
	for _, r := range rows {
		out[r.NodeID] = append(out[r.NodeID], r)
	}
	return out
}

func join(ss []string, sep string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += sep
		}
		out += s
	}
	return out
}
