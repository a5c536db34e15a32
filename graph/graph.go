package graph

import (
	"sort"
	"strconv"

	"github.com/cpmech/gosl/chk"
	"github.com/katalvlaran/lvlath/core"
)

// Registry is the typed node registry and edge topology of C1. It owns a
// lvlath directed multigraph keyed by the string form of NodeID, plus
// side-tables recovering the typed view lvlath's string-keyed core does
// not carry natively.
type Registry struct {
	g *core.Graph

	byType    map[NodeType][]NodeID // local_index-ordered
	subnet    map[NodeID]int
	edgesByID map[string]*Edge

	// inflow/outflow adjacency, built once and read-only thereafter.
	inflow  map[NodeID][]*Edge
	outflow map[NodeID][]*Edge

	nextEdgeSeq int
}

// NewRegistry allocates an empty registry. Nodes and edges are added during
// construction only (inp.Build); after Finalize the structure is immutable.
func NewRegistry() *Registry {
	return &Registry{
		g:         core.NewGraph(core.WithDirected(true), core.WithMultiEdges(), core.WithWeighted()),
		byType:    make(map[NodeType][]NodeID),
		subnet:    make(map[NodeID]int),
		edgesByID: make(map[string]*Edge),
		inflow:    make(map[NodeID][]*Edge),
		outflow:   make(map[NodeID][]*Edge),
	}
}

// AddNode registers a node of the given type, returning its NodeID. Local
// indices are assigned densely starting at 1 in the order nodes of that
// type are added, matching gofem's per-type cell numbering.
func (r *Registry) AddNode(t NodeType, subnetwork int) NodeID {
	idx := len(r.byType[t]) + 1
	id := NodeID{Type: t, Index: idx, Subnetwork: subnetwork}
	r.byType[t] = append(r.byType[t], id)
	r.subnet[id] = subnetwork
	if err := r.g.AddVertex(id.String()); err != nil {
		chk.Panic("graph: cannot add vertex %v: %v", id, err)
	}
	return id
}

// AddEdge connects two already-registered nodes. Flow edges must respect
// the connector in/out-degree bound (spec.md §3 Invariants); that check is
// deferred to Finalize so edges may be added in any order.
func (r *Registry) AddEdge(from, to NodeID, typ EdgeType) *Edge {
	r.nextEdgeSeq++
	eid := "e" + strconv.Itoa(r.nextEdgeSeq)
	if _, err := r.g.AddEdge(from.String(), to.String(), 0, core.WithEdgeDirected(true)); err != nil {
		chk.Panic("graph: cannot add edge %v->%v: %v", from, to, err)
	}
	e := &Edge{ID: eid, From: from, To: to, Type: typ}
	r.edgesByID[eid] = e
	r.outflow[from] = append(r.outflow[from], e)
	r.inflow[to] = append(r.inflow[to], e)
	return e
}

// Lookup returns the NodeType and subnetwork for an id already known to the
// registry; ok is false for unknown ids.
func (r *Registry) Lookup(id NodeID) (NodeType, int, bool) {
	sn, ok := r.subnet[id]
	if !ok {
		return "", 0, false
	}
	return id.Type, sn, true
}

// InflowLinks returns the ordered sequence of flow links entering a node.
func (r *Registry) InflowLinks(id NodeID) []*Edge {
	return filterType(r.inflow[id], FlowEdge)
}

// OutflowLinks returns the ordered sequence of flow links leaving a node.
func (r *Registry) OutflowLinks(id NodeID) []*Edge {
	return filterType(r.outflow[id], FlowEdge)
}

// ControlEdgesFrom returns the control edges leaving id, i.e. from a control
// node to its targets.
func (r *Registry) ControlEdgesFrom(id NodeID) []*Edge {
	return filterType(r.outflow[id], ControlEdge)
}

func filterType(edges []*Edge, t EdgeType) []*Edge {
	out := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// NodesOfType returns all node ids of a given type in ascending index order.
func (r *Registry) NodesOfType(t NodeType) []NodeID {
	return r.byType[t]
}

// SubnetworkIDs returns the sorted set of distinct subnetwork ids present.
func (r *Registry) SubnetworkIDs() []int {
	seen := map[int]bool{}
	for _, sn := range r.subnet {
		seen[sn] = true
	}
	ids := make([]int, 0, len(seen))
	for sn := range seen {
		ids = append(ids, sn)
	}
	sort.Ints(ids)
	return ids
}

// NodesIn returns every node id assigned to the given subnetwork, sorted by
// (type, index) for deterministic LP construction (spec.md §4.7 Determinism).
func (r *Registry) NodesIn(subnetwork int) []NodeID {
	var out []NodeID
	for id, sn := range r.subnet {
		if sn == subnetwork {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// AllEdgesSorted returns all edges, flow and control, sorted deterministically
// by (from, to).
func (r *Registry) AllEdgesSorted() []*Edge {
	var out []*Edge
	for _, e := range r.edgesByID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From.String() != out[j].From.String() {
			return out[i].From.String() < out[j].From.String()
		}
		return out[i].To.String() < out[j].To.String()
	})
	return out
}

// Finalize validates connector in/out-degree ≤ 1 (spec.md §3/§4.1) and
// collapses Junction chains into BasinPath annotations on the surviving
// edges. It does not check subnetwork membership of edges.
func (r *Registry) Finalize() error {
	for t, ids := range r.byType {
		if !t.IsConnector() {
			continue
		}
		for _, id := range ids {
			if len(r.InflowLinks(id)) > 1 {
				return chk.Err("graph: connector %v has in-degree > 1", id)
			}
			if len(r.OutflowLinks(id)) > 1 {
				return chk.Err("graph: connector %v has out-degree > 1", id)
			}
		}
	}
	r.collapseJunctions()
	return nil
}

// collapseJunctions records, on every non-Junction edge, the chain of Basin
// ids a flow passes through after Junctions (which carry no state, spec.md
// §3) are removed algebraically. This path is consumed by the allocation
// builder when it needs the basin(s) adjacent to a link.
func (r *Registry) collapseJunctions() {
	for _, e := range r.edgesByID {
		if e.Type != FlowEdge {
			continue
		}
		e.BasinPath = r.tracePath(e.To)
	}
}

// tracePath walks forward through Junction nodes (out-degree 1, algebraic
// identity) recording any Basin ids encountered, stopping at the first
// non-Junction, non-Basin node.
func (r *Registry) tracePath(start NodeID) []NodeID {
	var path []NodeID
	cur := start
	for {
		if cur.Type == Basin {
			path = append(path, cur)
		}
		if cur.Type != Junction {
			return path
		}
		out := r.OutflowLinks(cur)
		if len(out) == 0 {
			return path
		}
		cur = out[0].To
	}
}

// UpstreamOf resolves the single node feeding a connector's inflow,
// collapsing Junction chains backward (the mirror image of tracePath).
// ok is false if the node has no inflow edge.
func (r *Registry) UpstreamOf(id NodeID) (NodeID, bool) {
	in := r.InflowLinks(id)
	if len(in) == 0 {
		return NodeID{}, false
	}
	cur := in[0].From
	for cur.Type == Junction {
		in2 := r.InflowLinks(cur)
		if len(in2) == 0 {
			break
		}
		cur = in2[0].From
	}
	return cur, true
}

// UpstreamBasinPath lists the Basin ids encountered walking backward from a
// connector's inflow through any collapsed Junction chain, in the same
// style as the forward BasinPath annotation (spec.md §3 "Junction ...
// merged into adjacent flow relations").
func (r *Registry) UpstreamBasinPath(id NodeID) []NodeID {
	in := r.InflowLinks(id)
	if len(in) == 0 {
		return nil
	}
	var path []NodeID
	cur := in[0].From
	for {
		if cur.Type == Basin {
			path = append(path, cur)
		}
		if cur.Type != Junction {
			return path
		}
		in2 := r.InflowLinks(cur)
		if len(in2) == 0 {
			return path
		}
		cur = in2[0].From
	}
}
