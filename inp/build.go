package inp

import (
	"sort"

	"github.com/cpmech/gosl/chk"

	"github.com/ribasim/ribasim-go/graph"
)

// Model is the fully validated, immutable input to the simulation: the
// typed graph plus its parameter store (spec.md §3 Lifecycle: "Parameters
// are loaded once at construction and treated as immutable except where
// control explicitly patches them").
type Model struct {
	Config   *Config
	Registry *graph.Registry
	Params   *ParamStore
	Subgrids []*SubgridMap
}

// Build reads the node/link/static/time tables from db and assembles a
// validated Model, returning the first domain error found on a violation
// of spec.md §4.1 (neighbour-count bounds, non-monotone profiles, repeated
// rating-curve levels, flow edges crossing subnetworks except at
// primary->secondary connections). Errors are not aggregated, and
// subnetwork connectivity is not checked.
func Build(cfg *Config, db *Database) (*Model, error) {
	reg := graph.NewRegistry()
	params := NewParamStore()
	m := &Model{Config: cfg, Registry: reg, Params: params}

	idOf := map[int]graph.NodeID{}

	// Node table carries (node_id, node_type, subnetwork_id); subnetwork is
	// read as a float column ("subnetwork_id") alongside the text type.
	subnetRows, err := db.ReadStatic("Node", []string{"subnetwork_id"}, []string{"node_type"})
	if err != nil {
		return nil, err
	}
	for _, row := range subnetRows {
		t := graph.NodeType(row.Text["node_type"])
		sn := int(row.Values["subnetwork_id"])
		if sn == 0 {
			sn = 1
		}
		id := reg.AddNode(t, sn)
		idOf[row.NodeID] = id
	}

	if err := buildBasins(db, reg, params, idOf); err != nil {
		return nil, err
	}
	if err := buildLinearResistance(db, params, idOf); err != nil {
		return nil, err
	}
	if err := buildManningResistance(db, params, idOf); err != nil {
		return nil, err
	}
	if err := buildPumpsAndOutlets(db, params, idOf); err != nil {
		return nil, err
	}
	if err := buildRatingCurves(db, params, idOf); err != nil {
		return nil, err
	}
	if err := buildBoundaries(db, params, idOf); err != nil {
		return nil, err
	}
	if err := buildUserDemand(db, params, idOf); err != nil {
		return nil, err
	}
	if err := buildLevelDemand(db, params, idOf); err != nil {
		return nil, err
	}

	if err := buildEdges(db, reg, idOf); err != nil {
		return nil, err
	}

	if err := reg.Finalize(); err != nil {
		return nil, err
	}
	if err := validateSubnetworks(reg); err != nil {
		return nil, err
	}

	subgrids, err := buildSubgrids(db, idOf)
	if err != nil {
		return nil, err
	}
	m.Subgrids = subgrids

	return m, nil
}

// buildSubgrids reads the optional "Basin_subgrid" static table (spec.md
// §4.10, C10): one row per (basin, subgrid element, breakpoint), grouped
// into a monotone SubgridMap per (node, subgrid_id) pair the same way
// buildBasins groups Basin_profile rows per node.
func buildSubgrids(db *Database, idOf map[int]graph.NodeID) ([]*SubgridMap, error) {
	rows, err := db.ReadStatic("Basin_subgrid", []string{"subgrid_id", "basin_level", "element_level"}, nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	type key struct {
		node, subgrid int
	}
	grouped := map[key][]StaticRow{}
	var order []key
	for _, r := range rows {
		k := key{r.NodeID, int(r.Values["subgrid_id"])}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], r)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].node != order[j].node {
			return order[i].node < order[j].node
		}
		return order[i].subgrid < order[j].subgrid
	})

	var out []*SubgridMap
	for _, k := range order {
		id, ok := idOf[k.node]
		if !ok {
			return nil, chk.Err("subgrid: basin node_id %d not found in Node table", k.node)
		}
		grp := grouped[k]
		basinLevel := make([]float64, len(grp))
		elementLevel := make([]float64, len(grp))
		for i, r := range grp {
			basinLevel[i] = r.Values["basin_level"]
			elementLevel[i] = r.Values["element_level"]
		}
		sm, err := NewSubgridMap(k.subgrid, id, basinLevel, elementLevel)
		if err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, nil
}

func buildBasins(db *Database, reg *graph.Registry, params *ParamStore, idOf map[int]graph.NodeID) error {
	profileRows, err := db.ReadStatic("Basin_profile", []string{"level", "area"}, nil)
	if err != nil {
		return err
	}
	byNode := map[int][]StaticRow{}
	for _, r := range profileRows {
		byNode[r.NodeID] = append(byNode[r.NodeID], r)
	}

	precip, err := db.ReadTime("Basin_precipitation", []string{"value"})
	if err != nil {
		return err
	}
	evap, err := db.ReadTime("Basin_evaporation", []string{"value"})
	if err != nil {
		return err
	}
	drain, err := db.ReadTime("Basin_drainage", []string{"value"})
	if err != nil {
		return err
	}
	infil, err := db.ReadTime("Basin_infiltration", []string{"value"})
	if err != nil {
		return err
	}
	precipByNode := GroupByNode(precip)
	evapByNode := GroupByNode(evap)
	drainByNode := GroupByNode(drain)
	infilByNode := GroupByNode(infil)

	stateRows, err := db.ReadStatic("Basin_state", []string{"level"}, nil)
	if err != nil {
		return err
	}
	initLevel := map[int]float64{}
	for _, r := range stateRows {
		initLevel[r.NodeID] = r.Values["level"]
	}

	for nodeID, id := range idOf {
		if id.Type != graph.Basin {
			continue
		}
		rows, ok := byNode[nodeID]
		if !ok || len(rows) < 2 {
			return chk.Err("basin %v: profile table missing or has fewer than 2 rows", id)
		}
		level := make([]float64, len(rows))
		area := make([]float64, len(rows))
		for i, r := range rows {
			level[i] = r.Values["level"]
			area[i] = r.Values["area"]
		}
		profile, err := NewProfile(level, area, nil)
		if err != nil {
			return err
		}
		lvl0, ok := initLevel[nodeID]
		if !ok {
			// No explicit initial condition: start at the profile's lowest
			// defined level, matching the empty-basin default.
			lvl0 = level[0]
		}
		bp := &BasinParams{
			Profile:       profile,
			Precipitation: seriesOrZero(precipByNode[nodeID]),
			PotentialEvap: seriesOrZero(evapByNode[nodeID]),
			Drainage:      seriesOrZero(drainByNode[nodeID]),
			Infiltration:  seriesOrZero(infilByNode[nodeID]),
			LowStorageEps: 10.0,
			InitialLevel:  lvl0,
		}
		params.Basin[id] = bp
	}
	return nil
}

func seriesOrZero(rows []TimeRow) *TimeSeries {
	if len(rows) == 0 {
		return Constant(0)
	}
	times := make([]float64, len(rows))
	values := make([]float64, len(rows))
	for i, r := range rows {
		times[i] = r.Time
		values[i] = r.Values["value"]
	}
	ts, err := NewTimeSeries(times, values, ExtrapConstant, ExtrapConstant)
	if err != nil {
		return Constant(values[len(values)-1])
	}
	return ts
}

func buildLinearResistance(db *Database, params *ParamStore, idOf map[int]graph.NodeID) error {
	rows, err := db.ReadStatic("LinearResistance", []string{"resistance", "max_flow_rate"}, nil)
	if err != nil {
		return err
	}
	for _, r := range rows {
		id, ok := idOf[r.NodeID]
		if !ok {
			continue
		}
		params.LinearResistance[id] = &LinearResistanceParams{
			Resistance:  r.Values["resistance"],
			MaxFlowRate: r.Values["max_flow_rate"],
		}
	}
	return nil
}

func buildManningResistance(db *Database, params *ParamStore, idOf map[int]graph.NodeID) error {
	rows, err := db.ReadStatic("ManningResistance", []string{"width", "length", "manning_n", "profile_slope"}, nil)
	if err != nil {
		return err
	}
	for _, r := range rows {
		id, ok := idOf[r.NodeID]
		if !ok {
			continue
		}
		params.ManningResistance[id] = &ManningResistanceParams{
			Width:     r.Values["width"],
			Length:    r.Values["length"],
			Roughness: r.Values["manning_n"],
			Slope:     r.Values["profile_slope"],
		}
	}
	return nil
}

func buildPumpsAndOutlets(db *Database, params *ParamStore, idOf map[int]graph.NodeID) error {
	pumpRows, err := db.ReadStatic("Pump", []string{"flow_rate", "max_flow_rate", "min_flow_rate"}, nil)
	if err != nil {
		return err
	}
	for _, r := range pumpRows {
		id, ok := idOf[r.NodeID]
		if !ok {
			continue
		}
		params.Pump[id] = &PumpParams{
			FlowRate:    &Cell{Static: r.Values["flow_rate"]},
			MaxFlowRate: r.Values["max_flow_rate"],
			MinFlowRate: r.Values["min_flow_rate"],
		}
	}
	outletRows, err := db.ReadStatic("Outlet", []string{"flow_rate", "max_flow_rate", "min_flow_rate", "min_upstream_level"}, nil)
	if err != nil {
		return err
	}
	for _, r := range outletRows {
		id, ok := idOf[r.NodeID]
		if !ok {
			continue
		}
		params.Outlet[id] = &OutletParams{
			FlowRate:         &Cell{Static: r.Values["flow_rate"]},
			MaxFlowRate:      r.Values["max_flow_rate"],
			MinFlowRate:      r.Values["min_flow_rate"],
			MinUpstreamLevel: r.Values["min_upstream_level"],
		}
	}
	return nil
}

func buildRatingCurves(db *Database, params *ParamStore, idOf map[int]graph.NodeID) error {
	rows, err := db.ReadStatic("TabulatedRatingCurve", []string{"level", "flow_rate"}, []string{"table_name"})
	if err != nil {
		return err
	}
	type key struct {
		node  int
		table string
	}
	grouped := map[key][]StaticRow{}
	for _, r := range rows {
		k := key{r.NodeID, r.Text["table_name"]}
		grouped[k] = append(grouped[k], r)
	}
	for k, rs := range grouped {
		id, ok := idOf[k.node]
		if !ok {
			continue
		}
		level := make([]float64, len(rs))
		flow := make([]float64, len(rs))
		for i, r := range rs {
			level[i] = r.Values["level"]
			flow[i] = r.Values["flow_rate"]
		}
		curve, err := NewRatingCurve(k.table, level, flow)
		if err != nil {
			return err
		}
		tp, ok := params.TabulatedRatingCurve[id]
		if !ok {
			tp = &TabulatedRatingCurveParams{ActiveTable: k.table, Tables: map[string]*RatingCurve{}}
			params.TabulatedRatingCurve[id] = tp
		}
		tp.Tables[k.table] = curve
	}
	return nil
}

func buildBoundaries(db *Database, params *ParamStore, idOf map[int]graph.NodeID) error {
	flowPriority, err := db.ReadStatic("FlowBoundary", []string{"source_priority"}, nil)
	if err != nil {
		return err
	}
	flowSourcePriority := map[int]int{}
	for _, r := range flowPriority {
		flowSourcePriority[r.NodeID] = int(r.Values["source_priority"])
	}

	flowRows, err := db.ReadTime("FlowBoundary", []string{"flow_rate"})
	if err != nil {
		return err
	}
	for node, rows := range GroupByNode(flowRows) {
		id, ok := idOf[node]
		if !ok {
			continue
		}
		times := make([]float64, len(rows))
		vals := make([]float64, len(rows))
		for i, r := range rows {
			times[i] = r.Time
			vals[i] = r.Values["flow_rate"]
		}
		ts, err := NewTimeSeries(times, vals, ExtrapConstant, ExtrapConstant)
		if err != nil {
			return err
		}
		params.FlowBoundary[id] = &FlowBoundaryParams{Flow: ts, SourcePriority: flowSourcePriority[node]}
	}

	levelPriority, err := db.ReadStatic("LevelBoundary", []string{"source_priority"}, nil)
	if err != nil {
		return err
	}
	levelSourcePriority := map[int]int{}
	for _, r := range levelPriority {
		levelSourcePriority[r.NodeID] = int(r.Values["source_priority"])
	}

	levelRows, err := db.ReadTime("LevelBoundary", []string{"level"})
	if err != nil {
		return err
	}
	for node, rows := range GroupByNode(levelRows) {
		id, ok := idOf[node]
		if !ok {
			continue
		}
		times := make([]float64, len(rows))
		vals := make([]float64, len(rows))
		for i, r := range rows {
			times[i] = r.Time
			vals[i] = r.Values["level"]
		}
		ts, err := NewTimeSeries(times, vals, ExtrapConstant, ExtrapConstant)
		if err != nil {
			return err
		}
		params.LevelBoundary[id] = &LevelBoundaryParams{Level: ts, SourcePriority: levelSourcePriority[node]}
	}
	return nil
}

// buildLevelDemand reads the "LevelDemand" time table (min_level, max_level,
// demand_priority) the same way buildUserDemand reads per-priority demand
// series; the basin a LevelDemand targets is resolved later, from the
// graph, by allocation.Build via the node's outgoing control link (spec.md
// §4.7 "Level demand bounds").
func buildLevelDemand(db *Database, params *ParamStore, idOf map[int]graph.NodeID) error {
	rows, err := db.ReadTime("LevelDemand", []string{"min_level", "max_level", "demand_priority"})
	if err != nil {
		return err
	}
	priority := map[int]int{}
	for _, r := range rows {
		priority[r.NodeID] = int(r.Values["demand_priority"])
	}
	for node, rs := range GroupByNode(rows) {
		id, ok := idOf[node]
		if !ok {
			continue
		}
		times := make([]float64, len(rs))
		minVals := make([]float64, len(rs))
		maxVals := make([]float64, len(rs))
		for i, r := range rs {
			times[i] = r.Time
			minVals[i] = r.Values["min_level"]
			maxVals[i] = r.Values["max_level"]
		}
		minTS, err := NewTimeSeries(times, minVals, ExtrapConstant, ExtrapConstant)
		if err != nil {
			return err
		}
		maxTS, err := NewTimeSeries(times, maxVals, ExtrapConstant, ExtrapConstant)
		if err != nil {
			return err
		}
		params.LevelDemand[id] = &LevelDemandParams{MinLevel: minTS, MaxLevel: maxTS, Priority: priority[node]}
	}
	return nil
}

func buildUserDemand(db *Database, params *ParamStore, idOf map[int]graph.NodeID) error {
	rows, err := db.ReadTime("UserDemand", []string{"demand", "return_factor", "demand_priority"})
	if err != nil {
		return err
	}
	type nodeKey struct {
		node     int
		priority int
	}
	grouped := map[nodeKey][]TimeRow{}
	returnFactor := map[int]float64{}
	for _, r := range rows {
		p := int(r.Values["demand_priority"])
		grouped[nodeKey{r.NodeID, p}] = append(grouped[nodeKey{r.NodeID, p}], r)
		returnFactor[r.NodeID] = r.Values["return_factor"]
	}
	for k, rs := range grouped {
		id, ok := idOf[k.node]
		if !ok {
			continue
		}
		times := make([]float64, len(rs))
		vals := make([]float64, len(rs))
		for i, r := range rs {
			times[i] = r.Time
			vals[i] = r.Values["demand"]
		}
		ts, err := NewTimeSeries(times, vals, ExtrapConstant, ExtrapConstant)
		if err != nil {
			return err
		}
		up, ok := params.UserDemand[id]
		if !ok {
			up = &UserDemandParams{DemandByPriority: map[int]*TimeSeries{}, ReturnFactor: returnFactor[k.node]}
			params.UserDemand[id] = up
		}
		up.DemandByPriority[k.priority] = ts
	}
	return nil
}

func buildEdges(db *Database, reg *graph.Registry, idOf map[int]graph.NodeID) error {
	linkRows, err := db.ReadStatic("Link", []string{"from_node_id", "to_node_id", "priority"}, []string{"link_type"})
	if err != nil {
		return err
	}
	for _, r := range linkRows {
		from, ok1 := idOf[int(r.Values["from_node_id"])]
		to, ok2 := idOf[int(r.Values["to_node_id"])]
		if !ok1 || !ok2 {
			return chk.Err("link: unknown endpoint in link row %+v", r)
		}
		typ := graph.FlowEdge
		if r.Text["link_type"] == "control" {
			typ = graph.ControlEdge
		}
		e := reg.AddEdge(from, to, typ)
		e.RoutePriority = int(r.Values["priority"])
	}
	return nil
}

// validateSubnetworks checks spec.md §3 Invariants: "Every flow edge
// appears in exactly one subnetwork; subnetwork ids are positive; the
// primary subnetwork has id 1."
func validateSubnetworks(reg *graph.Registry) error {
	for _, sn := range reg.SubnetworkIDs() {
		if sn <= 0 {
			return chk.Err("subnetwork id must be positive, got %d", sn)
		}
	}
	for _, e := range reg.AllEdgesSorted() {
		if e.Type != graph.FlowEdge {
			continue
		}
		_, snFrom, _ := reg.Lookup(e.From)
		_, snTo, _ := reg.Lookup(e.To)
		if snFrom != snTo {
			// allowed only as a primary(1) -> secondary connection.
			if snFrom != 1 {
				return chk.Err("flow edge %s crosses subnetworks %d -> %d other than from the primary subnetwork", e.ID, snFrom, snTo)
			}
		}
	}
	return nil
}
