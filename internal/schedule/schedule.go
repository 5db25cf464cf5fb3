// Package schedule implements the Eades-Lin-Smyth feedback-arc-minimizing
// topological scheduler (spec.md section 4.C): given a directed flow
// graph, produce a linear vertex order minimizing feedback edges.
//
// Per spec.md section 9 ("Scheduler intrusive list"), vertices live in an
// arena addressed by index; the sources/sinks/bins buckets are intrusive
// doubly linked lists built from next/prev arrays keyed by that same
// index, never by pointer. Each list is a head/tail pair terminated by
// nilIdx; the lists are not circular and have no sentinel. Predecessor/
// successor sets are index sets (backed here by github.com/bits-and-blooms/bitset for
// allocation-free membership tests in the scheduler's hot inner loop).
package schedule

import (
	"sort"

	"github.com/bits-and-blooms/bitset"

	"gatesim/internal/flow"
)

// nilIdx marks "no neighbour" in the next/prev arrays.
const nilIdx = -1

// list is an intrusive FIFO: head/tail are vertex indices into the shared
// next/prev arrays, or nilIdx when empty.
type list struct {
	head, tail int
}

func emptyList() *list { return &list{head: nilIdx, tail: nilIdx} }

// scheduler holds the vertex arena and the three bucket structures.
type scheduler struct {
	n    int
	next []int
	prev []int

	predCount []int
	succCount []int
	preds     []*bitset.BitSet
	succs     []*bitset.BitSet

	loc  []*list // which list each vertex currently lives in
	src  *list
	sink *list
	bins map[int]*list
}

func newScheduler(n int) *scheduler {
	s := &scheduler{
		n:         n,
		next:      make([]int, n),
		prev:      make([]int, n),
		predCount: make([]int, n),
		succCount: make([]int, n),
		preds:     make([]*bitset.BitSet, n),
		succs:     make([]*bitset.BitSet, n),
		loc:       make([]*list, n),
		src:       emptyList(),
		sink:      emptyList(),
		bins:      map[int]*list{},
	}
	for i := 0; i < n; i++ {
		s.preds[i] = bitset.New(uint(n))
		s.succs[i] = bitset.New(uint(n))
		s.next[i] = nilIdx
		s.prev[i] = nilIdx
	}
	return s
}

func (s *scheduler) pushBack(l *list, v int) {
	s.prev[v] = l.tail
	s.next[v] = nilIdx
	if l.tail != nilIdx {
		s.next[l.tail] = v
	} else {
		l.head = v
	}
	l.tail = v
	s.loc[v] = l
}

func (s *scheduler) popFront(l *list) int {
	v := l.head
	if v == nilIdx {
		return nilIdx
	}
	l.head = s.next[v]
	if l.head != nilIdx {
		s.prev[l.head] = nilIdx
	} else {
		l.tail = nilIdx
	}
	s.next[v] = nilIdx
	s.prev[v] = nilIdx
	return v
}

func (s *scheduler) unlink(v int) {
	l := s.loc[v]
	if l == nil {
		return
	}
	p, nx := s.prev[v], s.next[v]
	if p != nilIdx {
		s.next[p] = nx
	} else {
		l.head = nx
	}
	if nx != nilIdx {
		s.prev[nx] = p
	} else {
		l.tail = p
	}
	s.next[v] = nilIdx
	s.prev[v] = nilIdx
	s.loc[v] = nil
}

// route returns the bucket vertex v currently belongs in, given its
// present predCount/succCount, creating the d-bin on demand.
func (s *scheduler) route(v int) *list {
	if s.predCount[v] == 0 {
		return s.src
	}
	if s.succCount[v] == 0 {
		return s.sink
	}
	d := s.succCount[v] - s.predCount[v]
	l, ok := s.bins[d]
	if !ok {
		l = emptyList()
		s.bins[d] = l
	}
	return l
}

// relink unlinks v from wherever it is and re-links it per its current
// counts.
func (s *scheduler) relink(v int) {
	s.unlink(v)
	s.pushBack(s.route(v), v)
}

// maxNonEmptyBin finds the greatest-d non-empty bin, per spec.md section
// 9's explicitly sanctioned naive linear-over-sorted-keys approach.
func (s *scheduler) maxNonEmptyBin() *list {
	keys := make([]int, 0, len(s.bins))
	for d, l := range s.bins {
		if l.head != nilIdx {
			keys = append(keys, d)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Sort(sort.Reverse(sort.IntSlice(keys)))
	return s.bins[keys[0]]
}

// Order runs the Eades-Lin-Smyth scheduler over g and returns a vertex
// order (node IDs) minimizing feedback edges: s1 ++ reverse(s2r).
func Order(g *flow.Graph) []int {
	n := len(g.Nodes)
	if n == 0 {
		return nil
	}
	s := newScheduler(n)

	for v := 0; v < n; v++ {
		for _, u := range g.Edges[v] {
			if u == v {
				continue // self-loops skipped, spec.md section 4.C
			}
			s.succs[v].Set(uint(u))
			s.preds[u].Set(uint(v))
		}
	}
	for v := 0; v < n; v++ {
		s.succCount[v] = int(s.succs[v].Count())
		s.predCount[v] = int(s.preds[v].Count())
	}
	// Initial routing in vertex-ID order for deterministic, insertion-order
	// (FIFO) tie-breaking.
	for v := 0; v < n; v++ {
		s.pushBack(s.route(v), v)
	}

	var s1 []int
	var s2r []int

	for {
		drained := false
		for s.sink.head != nilIdx {
			v := s.popFront(s.sink)
			s.loc[v] = nil
			s2r = append(s2r, v)
			removeVertex(s, v)
			drained = true
		}
		for s.src.head != nilIdx {
			v := s.popFront(s.src)
			s.loc[v] = nil
			s1 = append(s1, v)
			removeVertex(s, v)
			drained = true
		}
		if drained {
			continue
		}
		bin := s.maxNonEmptyBin()
		if bin == nil {
			break
		}
		v := s.popFront(bin)
		s.loc[v] = nil
		s1 = append(s1, v)
		removeVertex(s, v)
	}

	order := make([]int, 0, n)
	order = append(order, s1...)
	for i := len(s2r) - 1; i >= 0; i-- {
		order = append(order, s2r[i])
	}
	return order
}

// removeVertex drops v from the graph: every remaining predecessor loses
// v as a successor, every remaining successor loses v as a predecessor,
// and each is re-routed into its (possibly new) bucket.
func removeVertex(s *scheduler, v int) {
	for _, p := range setBits(s.preds[v]) {
		if int(p) == v {
			continue
		}
		s.succs[p].Clear(uint(v))
		s.succCount[p]--
		s.relink(int(p))
	}
	for _, u := range setBits(s.succs[v]) {
		if int(u) == v {
			continue
		}
		s.preds[u].Clear(uint(v))
		s.predCount[u]--
		s.relink(int(u))
	}
}

func setBits(b *bitset.BitSet) []uint {
	out := make([]uint, 0, b.Count())
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		out = append(out, i)
	}
	return out
}
