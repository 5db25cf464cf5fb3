// Package optimize implements the optimization analyzer (spec.md section
// 4.E): given a flow graph, its schedule, and the registered sync-wire
// set, decide per-wire elision and localization and detect feedback
// wires.
package optimize

import (
	"sort"

	"github.com/bits-and-blooms/bitset"

	"gatesim/internal/flow"
	"gatesim/internal/netlist"
)

// Flags selects which visibility classes are eligible for elision and
// localization, derived from the optimization-level mapping in spec.md
// section 4.H.
type Flags struct {
	ElideInternal    bool
	ElidePublic      bool
	LocalizeInternal bool
	LocalizePublic   bool
	RunSplitnets     bool
}

// LevelFlags returns the monotone Flags for optimization level 0-5
// (spec.md section 4.H, "Optimization-level -> flag mapping").
func LevelFlags(level int) Flags {
	var f Flags
	if level >= 1 {
		f.ElideInternal = true
	}
	if level >= 2 {
		f.LocalizeInternal = true
	}
	if level >= 3 {
		f.ElidePublic = true
	}
	if level >= 4 {
		f.LocalizePublic = true
	}
	if level >= 5 {
		f.RunSplitnets = true
	}
	return f
}

// Result holds the analyzer's decisions for one module.
type Result struct {
	// ElidedWires maps an elided wire to the single node that defines it.
	ElidedWires map[*netlist.Wire]*flow.Node
	// LocalizedWires is the set of wires demoted to a per-eval local.
	LocalizedWires map[*netlist.Wire]bool
	// FeedbackWires is the set of wires whose def is scheduled after at
	// least one of their uses.
	FeedbackWires map[*netlist.Wire]bool
}

// syncWires abstracts the subset of *syncreg.Registrar the analyzer
// needs, avoiding an import cycle between optimize and syncreg's
// reverse dependencies.
type syncWires interface {
	IsSyncWire(w *netlist.Wire) bool
}

// Analyze runs the optimization analyzer over g using the schedule order
// produced by internal/schedule and the consolidated sync-wire set from
// internal/syncreg.
func Analyze(g *flow.Graph, order []int, sync syncWires, flags Flags) *Result {
	res := &Result{
		ElidedWires:    map[*netlist.Wire]*flow.Node{},
		LocalizedWires: map[*netlist.Wire]bool{},
		FeedbackWires:  map[*netlist.Wire]bool{},
	}

	detectFeedbackWires(g, order, res)

	for _, w := range moduleWires(g) {
		if qualifiesForElision(g, sync, flags, w) && !res.FeedbackWires[w] {
			res.ElidedWires[w] = g.DefNode[w]
		}
	}
	for _, w := range moduleWires(g) {
		if qualifiesForLocalization(g, sync, flags, w, res) {
			res.LocalizedWires[w] = true
		}
	}
	return res
}

// detectFeedbackWires walks vertices in schedule order maintaining an
// "evaluated" set backed by a bitset (spec.md section 4.E, section 2
// "DOMAIN STACK"): for each newly evaluated node, any wire it defines
// that was already used by a previously evaluated node is a feedback
// wire.
func detectFeedbackWires(g *flow.Graph, order []int, res *Result) {
	evaluated := bitset.New(uint(len(g.Nodes)))
	for _, nodeID := range order {
		n := g.Nodes[nodeID]
		for _, w := range n.Defs {
			for _, useID := range g.UsesOf[w] {
				if evaluated.Test(uint(useID)) {
					res.FeedbackWires[w] = true
					delete(res.ElidedWires, w)
				}
			}
		}
		evaluated.Set(uint(nodeID))
	}
}

func qualifiesForElision(g *flow.Graph, sync syncWires, flags Flags, w *netlist.Wire) bool {
	if !g.Elidable(w) {
		return false
	}
	if w.PortID != 0 || w.Keep {
		return false
	}
	if sync.IsSyncWire(w) {
		return false
	}
	if w.Internal {
		return flags.ElideInternal
	}
	if w.Public {
		return flags.ElidePublic
	}
	return false
}

func qualifiesForLocalization(g *flow.Graph, sync syncWires, flags Flags, w *netlist.Wire, res *Result) bool {
	if res.FeedbackWires[w] {
		return false
	}
	if _, elided := res.ElidedWires[w]; elided {
		return false
	}
	if w.PortID != 0 || w.Keep {
		return false
	}
	if sync.IsSyncWire(w) {
		return false
	}
	if g.DefCount(w) != 1 {
		return false
	}
	if w.Internal {
		return flags.LocalizeInternal
	}
	if w.Public {
		return flags.LocalizePublic
	}
	return false
}

func moduleWires(g *flow.Graph) []*netlist.Wire {
	names := make([]string, 0, len(g.Module.Wires))
	for n := range g.Module.Wires {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*netlist.Wire, len(names))
	for i, n := range names {
		out[i] = g.Module.Wires[n]
	}
	return out
}
