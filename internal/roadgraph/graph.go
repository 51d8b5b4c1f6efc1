// Package roadgraph holds the validated, read-only road network a simulation runs on.
package roadgraph

import (
	"errors"
	"fmt"
	"math"

	"amburoute/internal/model"
)

// ErrMalformedInput is returned when nodes or edges cannot form a valid graph.
var ErrMalformedInput = errors.New("malformed input")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}

// Arc is one traversable direction of an edge.
type Arc struct {
	To   model.NodeID
	Time float64
}

// Graph is an undirected weighted network. It is never mutated after New.
type Graph struct {
	nodes     []model.Node
	adj       [][]Arc
	numEdges  int
	patients  []model.NodeID
	hospitals []model.NodeID
}

// New validates nodes and edges and builds the adjacency lists. Nodes may be
// given in any order but their IDs must cover 0..len(nodes)-1 exactly once.
func New(nodes []model.Node, edges []model.Edge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, malformed("graph has no nodes")
	}
	n := len(nodes)
	ordered := make([]model.Node, n)
	seen := make([]bool, n)
	for _, nd := range nodes {
		if nd.ID < 0 || int(nd.ID) >= n {
			return nil, malformed("node id %d outside 0..%d", nd.ID, n-1)
		}
		if seen[nd.ID] {
			return nil, malformed("duplicate node id %d", nd.ID)
		}
		seen[nd.ID] = true
		switch nd.Kind {
		case model.Patient:
			if math.IsNaN(nd.CareTime) || math.IsInf(nd.CareTime, 0) || nd.CareTime < 0 {
				return nil, malformed("patient %d has invalid care time %v", nd.ID, nd.CareTime)
			}
		case model.Hospital, model.Junction:
		default:
			return nil, malformed("node %d has unknown kind %d", nd.ID, nd.Kind)
		}
		ordered[nd.ID] = nd
	}

	adj := make([][]Arc, n)
	for i, e := range edges {
		if e.From < 0 || int(e.From) >= n || e.To < 0 || int(e.To) >= n {
			return nil, malformed("edge %d (%d-%d) references a missing node", i, e.From, e.To)
		}
		if math.IsNaN(e.Time) || math.IsInf(e.Time, 0) || e.Time < 0 {
			return nil, malformed("edge %d (%d-%d) has invalid time %v", i, e.From, e.To, e.Time)
		}
		adj[e.From] = append(adj[e.From], Arc{To: e.To, Time: e.Time})
		if e.From != e.To {
			adj[e.To] = append(adj[e.To], Arc{To: e.From, Time: e.Time})
		}
	}

	g := &Graph{nodes: ordered, adj: adj, numEdges: len(edges)}
	// ordered is indexed by id, so both lists come out ascending
	for _, nd := range ordered {
		switch nd.Kind {
		case model.Patient:
			g.patients = append(g.patients, nd.ID)
		case model.Hospital:
			g.hospitals = append(g.hospitals, nd.ID)
		}
	}
	return g, nil
}

func (g *Graph) NumNodes() int { return len(g.nodes) }
func (g *Graph) NumEdges() int { return g.numEdges }

// Has reports whether id names a node of g.
func (g *Graph) Has(id model.NodeID) bool { return id >= 0 && int(id) < len(g.nodes) }

func (g *Graph) Node(id model.NodeID) model.Node { return g.nodes[id] }

// Neighbors returns the arcs leaving id. Callers must not modify the slice.
func (g *Graph) Neighbors(id model.NodeID) []Arc { return g.adj[id] }

// Patients returns patient ids in ascending order.
func (g *Graph) Patients() []model.NodeID { return g.patients }

// Hospitals returns hospital ids in ascending order.
func (g *Graph) Hospitals() []model.NodeID { return g.hospitals }
