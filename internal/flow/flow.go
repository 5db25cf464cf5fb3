// Package flow builds the def/use flow graph over a module's flow nodes
// (continuous connections, cells, processes) per spec.md section 4.B, and
// accumulates the bookkeeping the optimization analyzer (internal/optimize)
// needs to decide wire elision eligibility.
//
// Flow nodes are modeled as a tagged variant (Kind + payload fields)
// rather than an interface, so the scheduler and optimizer can branch on
// the kind from another package without dynamic dispatch across the
// component boundary (spec.md section 9, "never use runtime dispatch
// across component boundaries").
package flow

import (
	"sort"

	"github.com/pkg/errors"

	"gatesim/internal/netlist"
)

// Kind tags the payload carried by a Node.
type Kind int

const (
	KindConnect Kind = iota
	KindCell
	KindProcess
)

// Node is one vertex of the flow graph: a continuous connection, a cell,
// or a process, along with the wires it defines and uses.
type Node struct {
	ID   int
	Kind Kind

	// KindConnect payload.
	ConnectLHS netlist.Signal
	ConnectRHS netlist.Signal

	// KindCell payload.
	Cell *netlist.Cell

	// KindProcess payload.
	Process *netlist.Process

	Defs []*netlist.Wire
	Uses []*netlist.Wire

	// DefSignals holds, for a KindCell node, the output-port signal(s)
	// that contributed a def -- used by wholeWireDef to check only the
	// port(s) that actually produced a wire's def, never an unrelated
	// input port that happens to be wired to the whole of that wire.
	DefSignals []netlist.Signal
}

// defSet/useSet track membership by wire pointer while Defs/Uses above
// preserve first-seen order for deterministic emission.
type nodeBuild struct {
	node    *Node
	defSet  map[*netlist.Wire]bool
	useSet  map[*netlist.Wire]bool
}

func newBuild(n *Node) *nodeBuild {
	return &nodeBuild{node: n, defSet: map[*netlist.Wire]bool{}, useSet: map[*netlist.Wire]bool{}}
}

func (b *nodeBuild) addDef(w *netlist.Wire) {
	if w == nil || b.defSet[w] {
		return
	}
	b.defSet[w] = true
	b.node.Defs = append(b.node.Defs, w)
}

func (b *nodeBuild) addUse(w *netlist.Wire) {
	if w == nil || b.useSet[w] {
		return
	}
	b.useSet[w] = true
	b.node.Uses = append(b.node.Uses, w)
}

func (b *nodeBuild) addDefSig(sig netlist.Signal) {
	for _, w := range sig.Wires() {
		b.addDef(w)
	}
}

func (b *nodeBuild) addUseSig(sig netlist.Signal) {
	for _, w := range sig.Wires() {
		b.addUse(w)
	}
}

// Graph is the def/use flow graph for one module: the node arena, plus
// def-edges and the elidability bookkeeping spec.md section 4.B mandates.
type Graph struct {
	Module *netlist.Module
	Nodes  []*Node

	// Edges[i] lists the IDs of nodes that use a wire node i defines.
	Edges [][]int

	// DefNode maps a wire to the single node that defines it (populated
	// whenever the wire has exactly one def, elidable or not).
	DefNode map[*netlist.Wire]*Node

	// defElidable/useElidable back spec.md's wire_def_elidable and
	// wire_use_elidable maps; wire_def_elidable also needs a defCount to
	// detect "exactly one" def.
	defElidable map[*netlist.Wire]bool
	defCount    map[*netlist.Wire]int
	useCount    map[*netlist.Wire]int
	useElidable map[*netlist.Wire]bool

	// UserCellOutputMap records, for each user cell, which wire (if any)
	// is bound to which output port -- needed by the emitter to inline
	// an elided user-cell output (spec.md section 4.E, "per-cell wire to
	// output-port map").
	UserCellOutputMap map[*netlist.Cell]map[*netlist.Wire]string

	// DefsOf/UsesOf list every node ID that defines/uses a given wire,
	// across all node kinds (not only elidable defs) -- the optimization
	// analyzer's feedback-wire walk needs the full def/use relation, not
	// just the single-elidable-def subset DefNode tracks.
	DefsOf map[*netlist.Wire][]int
	UsesOf map[*netlist.Wire][]int
}

// Build walks every connection, cell, and process in mod and returns its
// flow graph.
func Build(mod *netlist.Module, userOutputs func(moduleType string) map[string]bool) (*Graph, error) {
	g := &Graph{
		Module:            mod,
		DefNode:           map[*netlist.Wire]*Node{},
		defElidable:       map[*netlist.Wire]bool{},
		defCount:          map[*netlist.Wire]int{},
		useCount:          map[*netlist.Wire]int{},
		useElidable:       map[*netlist.Wire]bool{},
		UserCellOutputMap: map[*netlist.Cell]map[*netlist.Wire]string{},
	}

	// Continuous connections are their own flow-node kind (spec.md
	// section 4.B "Connect(lhs, rhs)"), never synthesized as pseudo-cells;
	// AddConnect is exposed both for this builder and for direct use by
	// tests that hand-build a graph.
	for _, conn := range mod.Connections {
		g.AddConnect(conn.LHS, conn.RHS)
	}

	for _, name := range mod.SortedCellNames() {
		c := mod.Cells[name]
		var outs map[string]bool
		if c.Kind == netlist.CellUser {
			outs = userOutputs(c.Type)
		}
		if err := g.addCell(c, outs); err != nil {
			return nil, errors.Wrapf(err, "module %q cell %q", mod.Name, name)
		}
	}
	for i, p := range mod.Processes {
		g.addProcess(p, i)
	}

	g.finishElidability()
	if err := g.buildEdges(); err != nil {
		return nil, errors.Wrapf(err, "module %q", mod.Name)
	}
	return g, nil
}

// AddConnect registers a continuous connection lhs=rhs as its own flow
// node (spec.md section 4.B, "Connect(lhs, rhs): lhs is defined
// (elidable); rhs is used").
func (g *Graph) AddConnect(lhs, rhs netlist.Signal) *Node {
	n := &Node{ID: len(g.Nodes), Kind: KindConnect, ConnectLHS: lhs, ConnectRHS: rhs}
	g.Nodes = append(g.Nodes, n)
	b := newBuild(n)
	b.addDefSig(lhs)
	b.addUseSig(rhs)
	g.recordDefUse(n, true)
	return n
}

func (g *Graph) addCell(c *netlist.Cell, userOutputs map[string]bool) error {
	n := &Node{ID: len(g.Nodes), Kind: KindCell, Cell: c}
	g.Nodes = append(g.Nodes, n)
	b := newBuild(n)

	elidableOutputs := (c.Kind == netlist.CellElidable && netlist.IsElidableType(c.Type)) || c.Kind == netlist.CellUser

	for _, port := range sortedPortNames(c.Ports) {
		sig := c.Ports[port]
		isOutput := c.IsOutput(port, userOutputs)
		if !isOutput {
			b.addUseSig(sig)
			continue
		}
		// Sequential outputs (FF Q, clocked memrd DATA) are
		// edge-deferred: they do not introduce a def (spec.md section
		// 4.B).
		if c.Kind == netlist.CellSequential {
			continue
		}
		b.addDefSig(sig)
		n.DefSignals = append(n.DefSignals, sig)
		if c.Kind == netlist.CellUser {
			for _, w := range sig.Wires() {
				if g.UserCellOutputMap[c] == nil {
					g.UserCellOutputMap[c] = map[*netlist.Wire]string{}
				}
				g.UserCellOutputMap[c][w] = port
			}
		}
	}
	g.recordDefUse(n, elidableOutputs)
	return nil
}

func (g *Graph) addProcess(p *netlist.Process, idx int) {
	n := &Node{ID: len(g.Nodes), Kind: KindProcess, Process: p}
	g.Nodes = append(g.Nodes, n)
	b := newBuild(n)

	walkCase(p.Root, b)
	for _, s := range p.Syncs {
		b.addUseSig(s.Signal)
		for _, a := range s.Actions {
			b.addUseSig(a.RHS)
			// Defs only for non-edge sync types (spec.md section 4.B,
			// "sync rules add uses for all rvalues and add defs ONLY
			// for non-edge sync types").
			if !s.Type.IsEdge() {
				b.addDefSig(a.LHS)
			}
		}
	}
	// Process-defined wires are never elidable defs: a process case's
	// lvalue does not, in general, assign the whole wire from a single
	// expression (it may be conditionally overwritten by sibling
	// branches). Process defs are therefore always recorded as
	// non-elidable.
	g.recordDefUse(n, false)
}

func walkCase(c *netlist.Case, b *nodeBuild) {
	if c == nil {
		return
	}
	for _, a := range c.Actions {
		b.addDefSig(a.LHS)
		b.addUseSig(a.RHS)
	}
	for _, sw := range c.Switches {
		b.addUseSig(sw.Selector)
		for _, sc := range sw.Cases {
			for _, pat := range sc.Patterns {
				b.addUseSig(pat)
			}
			walkCase(sc.Body, b)
		}
	}
}

// recordDefUse folds a node's Defs/Uses into the module-wide elidability
// bookkeeping (spec.md section 4.B): wire_def_elidable[w] is true only
// when the whole wire is assigned by a single expression from this node;
// wire_use_elidable[w] becomes true iff exactly one use-node ever touches
// w.
func (g *Graph) recordDefUse(n *Node, defsAreElidable bool) {
	for _, w := range n.Defs {
		g.defCount[w]++
		if defsAreElidable && wholeWireDef(n, w) {
			g.defElidable[w] = true
		} else {
			g.defElidable[w] = false
		}
		if len(g.Nodes) > 0 {
			g.DefNode[w] = n
		}
	}
	for _, w := range n.Uses {
		g.useCount[w]++
	}
}

// wholeWireDef reports whether node n's definition of w covers the whole
// wire in bit order from a single expression (continuous connect, a
// single elidable-cell Y, or a single user-cell output chunk).
func wholeWireDef(n *Node, w *netlist.Wire) bool {
	switch n.Kind {
	case KindConnect:
		return signalWholeWire(n.ConnectLHS, w)
	case KindCell:
		for _, sig := range n.DefSignals {
			if signalWholeWire(sig, w) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func signalWholeWire(sig netlist.Signal, w *netlist.Wire) bool {
	return len(sig) == 1 && !sig[0].IsConst() && sig[0].Wire == w && sig[0].Offset == 0 && sig[0].Width == w.Width
}

func (g *Graph) finishElidability() {
	for w, cnt := range g.defCount {
		if cnt != 1 {
			g.defElidable[w] = false
			delete(g.DefNode, w)
		}
	}
	for w, cnt := range g.useCount {
		g.useElidable[w] = cnt == 1
	}
}

// Elidable reports whether w has exactly one elidable def and exactly one
// elidable use (spec.md section 4.B, final paragraph).
func (g *Graph) Elidable(w *netlist.Wire) bool {
	return g.defElidable[w] && g.useElidable[w] && g.DefNode[w] != nil
}

// DefCount returns the number of flow-graph nodes that define w (spec.md
// section 4.E localization eligibility: "w has exactly one flow-def").
func (g *Graph) DefCount(w *netlist.Wire) int {
	return g.defCount[w]
}

// buildEdges materializes directed def->use edges: for every wire, from
// the node(s) that define it to every node that uses it. Edge-triggered
// sync-rule actions do not contribute defs and were already excluded in
// addProcess.
func (g *Graph) buildEdges() error {
	g.Edges = make([][]int, len(g.Nodes))
	g.DefsOf = map[*netlist.Wire][]int{}
	g.UsesOf = map[*netlist.Wire][]int{}
	for _, n := range g.Nodes {
		for _, w := range n.Defs {
			g.DefsOf[w] = append(g.DefsOf[w], n.ID)
		}
		for _, w := range n.Uses {
			g.UsesOf[w] = append(g.UsesOf[w], n.ID)
		}
	}
	for w, defIDs := range g.DefsOf {
		for _, d := range defIDs {
			for _, u := range g.UsesOf[w] {
				if d == u {
					continue // self-loop, skipped per spec.md section 4.C
				}
				g.Edges[d] = append(g.Edges[d], u)
			}
		}
	}
	for i := range g.Edges {
		sort.Ints(g.Edges[i])
		g.Edges[i] = dedupInts(g.Edges[i])
	}
	return nil
}

// AddUse registers an additional use of w by n after Build has already
// finalized Edges/DefsOf/UsesOf/useElidable (spec.md section 4.F: a
// transparent memrd's dependency on its paired memwr's EN/ADDR/DATA must
// reach the scheduler, not just n.Uses, or schedule.Order -- which reads
// only g.Edges -- could legally place the read before the write once
// those wires are localized). A no-op if n already uses w.
func (g *Graph) AddUse(n *Node, w *netlist.Wire) {
	for _, existing := range n.Uses {
		if existing == w {
			return
		}
	}
	n.Uses = append(n.Uses, w)
	g.useCount[w]++
	g.useElidable[w] = g.useCount[w] == 1
	g.UsesOf[w] = append(g.UsesOf[w], n.ID)
	for _, d := range g.DefsOf[w] {
		if d == n.ID {
			continue
		}
		g.Edges[d] = append(g.Edges[d], n.ID)
		sort.Ints(g.Edges[d])
		g.Edges[d] = dedupInts(g.Edges[d])
	}
}

func dedupInts(xs []int) []int {
	if len(xs) < 2 {
		return xs
	}
	out := xs[:1]
	for _, x := range xs[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

func sortedPortNames(ports map[string]netlist.Signal) []string {
	names := make([]string, 0, len(ports))
	for n := range ports {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
