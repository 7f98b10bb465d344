package routing

import (
	"container/heap"
	"sync"

	"github.com/chazu/rapidchiplet/pkg/errs"
	"github.com/chazu/rapidchiplet/pkg/graph"
)

// queueItem is a node awaiting expansion at a known distance.
type queueItem struct {
	dist int
	node graph.NodeID
}

// nodeQueue is a min-heap ordered by distance, then by node order.
type nodeQueue []queueItem

func (q nodeQueue) Len() int { return len(q) }
func (q nodeQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].node.Less(q[j].node)
}
func (q nodeQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x interface{}) { *q = append(*q, x.(queueItem)) }
func (q *nodeQueue) Pop() interface{} {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// preferred reports whether candidate beats current as the next hop of a
// node whose best path has the same length through either. Interposer
// routers beat chiplets; within a kind the lower index wins.
func preferred(candidate, current graph.NodeID) bool {
	if current.Kind == graph.NodeChiplet && candidate.Kind == graph.NodeIRouter {
		return true
	}
	return current.Kind == candidate.Kind && current.Index > candidate.Index
}

// towards computes, for every node, the next hop on its preferred shortest
// path to dst. Only relay-capable nodes are expanded, so non-relay chiplets
// can end a path but never forward along one. Unreachable nodes keep ok=false.
func towards(g *graph.Graph, dst graph.NodeID) (next []graph.NodeID, ok []bool) {
	const inf = int(^uint(0) >> 1)
	n := g.Len()
	dist := make([]int, n)
	for i := range dist {
		dist[i] = inf
	}
	next = make([]graph.NodeID, n)
	ok = make([]bool, n)

	dist[dst.Index] = 0
	q := &nodeQueue{{dist: 0, node: dst}}
	for q.Len() > 0 {
		cur := heap.Pop(q).(queueItem)
		if cur.dist > dist[cur.node.Index] {
			continue
		}
		for _, nb := range g.Neighbors(cur.node) {
			d := cur.dist + 1
			i := nb.Index
			if d < dist[i] || (d == dist[i] && preferred(cur.node, next[i])) {
				improved := d < dist[i]
				dist[i] = d
				next[i] = cur.node
				ok[i] = true
				if improved && g.CanRelay(nb) {
					heap.Push(q, queueItem{dist: d, node: nb})
				}
			}
		}
	}
	return next, ok
}

// simple builds a Simple table: one shortest-path search per destination
// chiplet. With workers > 1 the searches run concurrently, each writing its
// own result slot.
func simple(g *graph.Graph, workers int) (*Table, error) {
	const op = "routing.simple"

	dsts := g.Chiplets()
	type result struct {
		next []graph.NodeID
		ok   []bool
	}
	results := make([]result, len(dsts))

	if workers < 2 {
		for i, d := range dsts {
			results[i].next, results[i].ok = towards(g, d)
		}
	} else {
		var wg sync.WaitGroup
		sem := make(chan struct{}, workers)
		for i, d := range dsts {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int, d graph.NodeID) {
				defer wg.Done()
				defer func() { <-sem }()
				results[i].next, results[i].ok = towards(g, d)
			}(i, d)
		}
		wg.Wait()
	}

	t := newSimple()
	nodes := g.Nodes()
	for di, d := range dsts {
		r := results[di]
		for _, n := range nodes {
			if n == d {
				continue
			}
			if !r.ok[n.Index] {
				return nil, errs.Unreachable(op, n, d)
			}
			t.setSimple(n, d, r.next[n.Index])
		}
	}
	return t, nil
}
