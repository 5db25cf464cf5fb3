// Package memplan implements the memory-port planner (spec.md section
// 4.F): group write ports by (clock bit, memory), compute transparent-read
// port sets, and mark which memories are writable.
package memplan

import (
	"sort"

	"github.com/pkg/errors"

	"gatesim/internal/flow"
	"gatesim/internal/netlist"
)

// clockKey identifies one (clock-bit, memory) group. The clock bit is
// addressed by the driving wire and bit offset so two ports on the same
// physical clock net group together regardless of how their CLK signal
// was sliced.
type clockKey struct {
	ClockWire *netlist.Wire
	ClockBit  int
	Memory    *netlist.Memory
}

// Plan holds the planner's output for one module.
type Plan struct {
	// TransparentFor maps a $memrd cell to the $memwr cells (sorted by
	// PRIORITY ascending) whose same-cycle writes it must observe.
	TransparentFor map[*netlist.Cell][]*netlist.Cell
}

// Build groups every clocked $memwr cell in g.Module by (clock-bit,
// memory), copies the matching group into TransparentFor for every
// clocked $memrd cell with a true TRANSPARENT parameter, and registers
// the EN/ADDR/DATA signals of each such write port as additional uses of
// the read node in g (spec.md section 4.F, "so transparent reads order
// correctly").
func Build(g *flow.Graph, sigMap *netlist.SigMap) (*Plan, error) {
	groups := map[clockKey][]*netlist.Cell{}

	for _, name := range g.Module.SortedCellNames() {
		c := g.Module.Cells[name]
		if c.Type != "$memwr" {
			continue
		}
		key, clocked, err := groupKey(sigMap, c)
		if err != nil {
			return nil, errors.Wrapf(err, "module %q memwr %q", g.Module.Name, name)
		}
		if !clocked {
			continue // asynchronous write port, not grouped (spec.md section 4.F groups clocked memwr only)
		}
		groups[key] = append(groups[key], c)
	}
	for k := range groups {
		sort.Slice(groups[k], func(i, j int) bool {
			return groups[k][i].Params["PRIORITY"] < groups[k][j].Params["PRIORITY"]
		})
	}

	plan := &Plan{TransparentFor: map[*netlist.Cell][]*netlist.Cell{}}
	nodeOf := map[*netlist.Cell]*flow.Node{}
	for _, n := range g.Nodes {
		if n.Kind == flow.KindCell {
			nodeOf[n.Cell] = n
		}
	}

	for _, name := range g.Module.SortedCellNames() {
		c := g.Module.Cells[name]
		if c.Type != "$memrd" || c.Params["TRANSPARENT"] == 0 {
			continue
		}
		key, clocked, err := groupKey(sigMap, c)
		if err != nil {
			return nil, errors.Wrapf(err, "module %q memrd %q", g.Module.Name, name)
		}
		if !clocked {
			continue
		}
		writers := groups[key]
		if len(writers) == 0 {
			continue
		}
		plan.TransparentFor[c] = writers

		readNode := nodeOf[c]
		if readNode == nil {
			continue
		}
		for _, w := range writers {
			for _, port := range []string{"EN", "ADDR", "DATA"} {
				for _, wire := range w.Ports[port].Wires() {
					g.AddUse(readNode, wire)
				}
			}
		}
	}
	return plan, nil
}

// groupKey returns the (clock-bit, memory) key for c, and false if c has no
// CLK port at all -- an asynchronous memory port, which the rest of the
// codebase (internal/pipeline's registerEdgeSignals, internal/emit's
// hasClk checks) already treats as valid and simply excludes from
// clock-edge handling rather than rejecting.
func groupKey(sigMap *netlist.SigMap, c *netlist.Cell) (clockKey, bool, error) {
	clk, ok := c.Ports["CLK"]
	if !ok || len(clk) == 0 {
		return clockKey{}, false, nil
	}
	w, bit, err := sigMap.SingleBit(clk)
	if err != nil {
		return clockKey{}, false, err
	}
	return clockKey{ClockWire: w, ClockBit: bit, Memory: c.Memory}, true, nil
}
