package emit

import (
	"fmt"

	"github.com/pkg/errors"

	"gatesim/internal/mangle"
	"gatesim/internal/netlist"
)

// nameCache memoizes identifier -> mangled-name lookups keyed by pointer
// identity, following the teacher printer's valueNames/portNames map
// idiom (internal/mlir/emitter.go), generalized from SSA values to
// wires/cells/memories/modules.
type nameCache struct {
	wires    map[*netlist.Wire]string
	cells    map[*netlist.Cell]string
	memories map[*netlist.Memory]string
	modules  map[string]string
}

func newNameCache() *nameCache {
	return &nameCache{
		wires:    map[*netlist.Wire]string{},
		cells:    map[*netlist.Cell]string{},
		memories: map[*netlist.Memory]string{},
		modules:  map[string]string{},
	}
}

func (nc *nameCache) wire(w *netlist.Wire) (string, error) {
	if n, ok := nc.wires[w]; ok {
		return n, nil
	}
	n, err := mangle.Name(w.Name)
	if err != nil {
		return "", errors.Wrapf(err, "wire %q", w.Name)
	}
	nc.wires[w] = n
	return n, nil
}

func (nc *nameCache) cell(c *netlist.Cell) (string, error) {
	if n, ok := nc.cells[c]; ok {
		return n, nil
	}
	n, err := mangle.Cell(c.Name)
	if err != nil {
		return "", errors.Wrapf(err, "cell %q", c.Name)
	}
	nc.cells[c] = n
	return n, nil
}

func (nc *nameCache) memory(m *netlist.Memory) (string, error) {
	if n, ok := nc.memories[m]; ok {
		return n, nil
	}
	n, err := mangle.Memory(m.Name)
	if err != nil {
		return "", errors.Wrapf(err, "memory %q", m.Name)
	}
	nc.memories[m] = n
	return n, nil
}

func (nc *nameCache) module(name string) (string, error) {
	if n, ok := nc.modules[name]; ok {
		return n, nil
	}
	n, err := mangle.Name(name)
	if err != nil {
		return "", errors.Wrapf(err, "module %q", name)
	}
	nc.modules[name] = n
	return n, nil
}

// edgeFlagName names the posedge_/negedge_ boolean for one sync-wire bit.
// A bit suffix is only appended when the wire is wider than one bit, so
// the common width-1 clock case stays as posedge_p_clk rather than
// posedge_p_clk_0.
func edgeFlagName(kind string, mangledWire string, wire *netlist.Wire, bit int) string {
	if wire.Width == 1 {
		return fmt.Sprintf("%s_%s", kind, mangledWire)
	}
	return fmt.Sprintf("%s_%s_%d", kind, mangledWire, bit)
}
