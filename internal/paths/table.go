// Package paths precomputes shortest transit times and paths from a set of
// source nodes to every node of a road graph.
package paths

import (
	"context"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"amburoute/internal/model"
	"amburoute/internal/roadgraph"
)

const noNode model.NodeID = -1

// Table is the shortest-path index. It holds one single-source row per
// source node: distances (+Inf when unreachable) and predecessors.
type Table struct {
	row  []int // node -> row index, -1 when the node is not a source
	dist [][]float64
	pred [][]model.NodeID
}

// Build runs Dijkstra from each of sources, or from every node when none are
// given. Up to workers sources are processed concurrently (workers <= 0 means
// GOMAXPROCS); each writes only its own row. The only error is cancellation
// of ctx. Memory is len(sources) x NumNodes, so callers that only query from
// a few nodes should name them.
func Build(ctx context.Context, g *roadgraph.Graph, workers int, sources ...model.NodeID) (*Table, error) {
	n := g.NumNodes()
	t := &Table{row: make([]int, n)}
	for i := range t.row {
		t.row[i] = -1
	}
	var srcs []model.NodeID
	if len(sources) == 0 {
		srcs = make([]model.NodeID, n)
		for i := range srcs {
			srcs[i] = model.NodeID(i)
			t.row[i] = i
		}
	} else {
		for _, s := range sources {
			if g.Has(s) && t.row[s] < 0 {
				t.row[s] = len(srcs)
				srcs = append(srcs, s)
			}
		}
	}
	t.dist = make([][]float64, len(srcs))
	t.pred = make([][]model.NodeID, len(srcs))
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, s := range srcs {
		i, s := i, s
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t.dist[i], t.pred[i] = singleSource(g, s)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return t, nil
}

func singleSource(g *roadgraph.Graph, src model.NodeID) ([]float64, []model.NodeID) {
	n := g.NumNodes()
	dist := make([]float64, n)
	pred := make([]model.NodeID, n)
	for i := range dist {
		dist[i] = math.Inf(1)
		pred[i] = noNode
	}
	dist[src] = 0
	pq := minHeap{items: make([]heapItem, 0, 64)}
	pq.Push(src, 0)
	for pq.Len() > 0 {
		cur := pq.Pop()
		if cur.dist > dist[cur.node] {
			continue
		}
		for _, a := range g.Neighbors(cur.node) {
			nd := cur.dist + a.Time
			if nd < dist[a.To] {
				dist[a.To] = nd
				pred[a.To] = cur.node
				pq.Push(a.To, nd)
			}
		}
	}
	return dist, pred
}

// NumNodes is the number of columns of the table.
func (t *Table) NumNodes() int { return len(t.row) }

// NumSources is the number of rows that were computed.
func (t *Table) NumSources() int { return len(t.dist) }

// HasSource reports whether a row was computed from a.
func (t *Table) HasSource(a model.NodeID) bool {
	return a >= 0 && int(a) < len(t.row) && t.row[a] >= 0
}

// Distance returns the shortest transit time from a to b, or +Inf and false
// when b cannot be reached from a. A node that is not a source reaches
// nothing but itself.
func (t *Table) Distance(a, b model.NodeID) (float64, bool) {
	if !t.HasSource(a) {
		if a == b {
			return 0, true
		}
		return math.Inf(1), false
	}
	d := t.dist[t.row[a]][b]
	return d, !math.IsInf(d, 1)
}

func (t *Table) Reachable(a, b model.NodeID) bool {
	_, ok := t.Distance(a, b)
	return ok
}

// Path returns the nodes of a shortest path from a to b, both inclusive.
// It is empty when a == b or b is unreachable.
func (t *Table) Path(a, b model.NodeID) []model.NodeID {
	if a == b || !t.Reachable(a, b) {
		return []model.NodeID{}
	}
	pred := t.pred[t.row[a]]
	var rev []model.NodeID
	for v := b; v != noNode; v = pred[v] {
		rev = append(rev, v)
	}
	out := make([]model.NodeID, len(rev))
	for i, v := range rev {
		out[len(rev)-1-i] = v
	}
	return out
}
