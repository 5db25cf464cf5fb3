// Package netlist models the flattened gate-level netlist consumed by the
// compiler backend: modules, wires, cells, processes and memories. The
// container itself and its pre-passes (ProcPrune, ProcClean, ProcInit,
// MemoryUnpack, SplitNets, OptClean) are the external collaborators named in
// spec section 6; this package provides idiomatic, idempotent
// implementations of their interfaces so the pipeline driver in
// internal/pipeline has something concrete to call.
package netlist

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// PortRole classifies how a wire participates in its module's interface.
type PortRole int

const (
	PortNone PortRole = iota
	PortInput
	PortOutput
	PortInOut
)

// Wire is a named, width-typed bit-vector storage location.
type Wire struct {
	Name     string
	Width    int
	Port     PortRole
	PortID   int // 1-based position in the module's port list; 0 if not a port
	Keep     bool
	Init     BitVector // power-on value, nil if unset
	Public   bool      // true if the source name began with '\'
	Internal bool      // true if the source name began with '$'
}

// Visibility reports the elision-eligibility visibility bucket for w,
// matching spec.md section 4.E ("elide_internal"/"elide_public").
func (w *Wire) Visibility() (internal, public bool) {
	return w.Internal, w.Public
}

// Chunk is a contiguous slice of a single wire, or a constant literal.
type Chunk struct {
	Wire   *Wire // nil for a constant chunk
	Const  BitVector
	Offset int
	Width  int
}

// IsConst reports whether c is a constant literal chunk.
func (c Chunk) IsConst() bool { return c.Wire == nil }

// WholeWire reports whether c covers its wire's entire width starting at
// bit 0.
func (c Chunk) WholeWire() bool {
	return !c.IsConst() && c.Offset == 0 && c.Width == c.Wire.Width
}

// Signal is a concatenation of chunks stored least-significant chunk
// first: chunk 0 holds the low bits, and bits are addressed LSB-first
// across chunks in the order they are stored.
type Signal []Chunk

// IsWireSignal reports whether sig is exactly one chunk covering its whole
// wire -- "a wire signal" per spec.md section 3.
func (sig Signal) IsWireSignal() bool {
	return len(sig) == 1 && sig[0].WholeWire()
}

// SoleWire returns the wire sig addresses, if it is a wire signal.
func (sig Signal) SoleWire() *Wire {
	if !sig.IsWireSignal() {
		return nil
	}
	return sig[0].Wire
}

// Width returns the total bit width of sig.
func (sig Signal) Width() int {
	w := 0
	for _, c := range sig {
		w += c.Width
	}
	return w
}

// Wires returns the distinct wires referenced by sig's chunks, in
// first-seen order.
func (sig Signal) Wires() []*Wire {
	var out []*Wire
	seen := map[*Wire]bool{}
	for _, c := range sig {
		if c.IsConst() || c.Wire == nil || seen[c.Wire] {
			continue
		}
		seen[c.Wire] = true
		out = append(out, c.Wire)
	}
	return out
}

// Equal reports structural equality between two signals (spec.md section 3:
// "Equality and slicing are purely structural").
func (sig Signal) Equal(other Signal) bool {
	if len(sig) != len(other) {
		return false
	}
	for i := range sig {
		a, b := sig[i], other[i]
		if a.IsConst() != b.IsConst() {
			return false
		}
		if a.IsConst() {
			if len(a.Const) != len(b.Const) {
				return false
			}
			for j := range a.Const {
				if a.Const[j] != b.Const[j] {
					return false
				}
			}
			continue
		}
		if a.Wire != b.Wire || a.Offset != b.Offset || a.Width != b.Width {
			return false
		}
	}
	return true
}

// CellKind classifies a cell into one of the three disjoint families named
// in spec.md section 3.
type CellKind int

const (
	CellElidable   CellKind = iota // elidable combinational: not/and/mux/concat/slice/...
	CellSequential                 // dff/dffe/adff/dffsr/dlatch/sr, memrd/memwr/meminit
	CellUser                       // instance of another module
)

// Cell is a typed operator with named ports bound to signals.
type Cell struct {
	Name   string
	Type   string // e.g. "$not", "$dff", or a module name for CellUser
	Kind   CellKind
	Ports  map[string]Signal
	Params map[string]int64

	// Memory is set on $memrd/$memwr/$meminit cells to the memory they
	// target (populated by MemoryUnpack, or directly by a caller that
	// builds memory-port cells without going through a packed $mem).
	Memory *Memory
}

// Known reports whether port is a declared port of this cell type.
func (c *Cell) Known(port string) bool {
	_, ok := c.Ports[port]
	return ok
}

// IsOutput reports whether port is an output port for this cell, looked up
// in the elidable/sequential cell catalog (CellElidable/CellSequential) or,
// for CellUser, in the instantiated module's port list (the caller must
// pass it in since Cell does not hold a back-reference to the design).
func (c *Cell) IsOutput(port string, userOutputs map[string]bool) bool {
	switch c.Kind {
	case CellUser:
		return userOutputs[port]
	default:
		return cellOutputPorts[c.Type][port]
	}
}

// Memory is a named array of Size words of Width bits each.
type Memory struct {
	Name        string
	Width       int
	Size        int
	StartOffset int
	Writable    bool // computed: true iff some memwr targets this memory

	// Init holds the memory's initial content, collected from every
	// $meminit cell that targets it and sorted PRIORITY descending then
	// ADDR ascending (spec.md section 5, section 6 "init<Words>
	// entries"). Empty for a memory with no $meminit cells.
	Init []MemInitEntry
}

// MemInitEntry is one $meminit cell's contribution to a memory's initial
// content: Words consecutive words of Width bits each, starting at word
// address Addr.
type MemInitEntry struct {
	Addr  uint64
	Words int
	Width int
	Data  BitVector
}

// Action is a single lvalue <- rvalue assignment inside a Case or Sync.
type Action struct {
	LHS Signal
	RHS Signal
}

// Switch compares a selector signal against each case's patterns.
type Switch struct {
	Selector Signal
	Cases    []*SwitchCase
}

// SwitchCase holds the patterns and body for one arm of a Switch.
type SwitchCase struct {
	Patterns []Signal // constant comparison signals; empty means default
	Body     *Case
	Attrs    map[string]string
}

// Case is a sequence of actions and nested switches, evaluated top to
// bottom (later actions in the same case win on overlapping lvalues,
// matching last-assignment-wins case semantics).
type Case struct {
	Actions  []Action
	Switches []*Switch
}

// SyncType enumerates the sync-rule trigger kinds named in spec.md
// section 3.
type SyncType int

const (
	ST0 SyncType = iota // level, active low
	ST1                 // level, active high
	STa                 // asynchronous level
	STp                 // posedge
	STn                 // negedge
	STe                 // either edge
	STi                 // init (resolved away by ProcInit before analysis)
	STg                 // global clock (unsupported, spec.md section 1 NON-GOALS)
)

// IsEdge reports whether t is one of the edge-triggered kinds.
func (t SyncType) IsEdge() bool { return t == STp || t == STn || t == STe }

// String renders t the way spec.md section 3 names it, for diagnostics.
func (t SyncType) String() string {
	switch t {
	case ST0:
		return "ST0 (level, active low)"
	case ST1:
		return "ST1 (level, active high)"
	case STa:
		return "STa (asynchronous level)"
	case STp:
		return "STp (posedge)"
	case STn:
		return "STn (negedge)"
	case STe:
		return "STe (either edge)"
	case STi:
		return "STi (init)"
	case STg:
		return "STg (global clock)"
	default:
		return fmt.Sprintf("SyncType(%d)", int(t))
	}
}

// Sync is one sync rule attached to a Process: a trigger and the actions
// that fire when it is satisfied.
type Sync struct {
	Type    SyncType
	Signal  Signal
	Actions []Action
}

// Process is a root Case plus zero or more Sync rules.
type Process struct {
	Name  string
	Root  *Case
	Syncs []*Sync
}

// Module is one design unit: ports, wires, memories, cells, processes,
// and continuous connections.
type Module struct {
	Name      string
	Attrs     map[string]string
	Blackbox  bool
	Selected  bool
	PortOrder []string // wire names in port-list order
	Wires     map[string]*Wire
	Memories  map[string]*Memory
	Cells     map[string]*Cell
	Processes []*Process

	// Connections holds the module's continuous lhs=rhs assignments
	// (spec.md section 4.B "Connect(lhs, rhs)"), in declaration order --
	// unlike Wires/Cells/Memories, order here is semantically meaningful
	// input data, not a lookup table, so it is never re-sorted.
	Connections []Action

	SigMap *SigMap
}

// NewModule returns an empty, ready-to-populate module.
func NewModule(name string) *Module {
	return &Module{
		Name:     name,
		Attrs:    map[string]string{},
		Wires:    map[string]*Wire{},
		Memories: map[string]*Memory{},
		Cells:    map[string]*Cell{},
		SigMap:   NewSigMap(),
	}
}

// AddWire registers w under its name, computing Public/Internal from the
// name's leading character.
func (m *Module) AddWire(w *Wire) error {
	switch {
	case len(w.Name) == 0:
		return errors.New("wire has empty name")
	case w.Name[0] == '\\':
		w.Public = true
	case w.Name[0] == '$':
		w.Internal = true
	default:
		return errors.Errorf("wire %q: leading character must be '\\\\' or '$'", w.Name)
	}
	m.Wires[w.Name] = w
	return nil
}

// SortedWireNames returns wire names in deterministic (sorted) order,
// required throughout the pipeline for byte-identical output (spec.md
// section 5).
func (m *Module) SortedWireNames() []string {
	names := make([]string, 0, len(m.Wires))
	for n := range m.Wires {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SortedCellNames returns cell names in deterministic order.
func (m *Module) SortedCellNames() []string {
	names := make([]string, 0, len(m.Cells))
	for n := range m.Cells {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SortedMemoryNames returns memory names in deterministic order.
func (m *Module) SortedMemoryNames() []string {
	names := make([]string, 0, len(m.Memories))
	for n := range m.Memories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ComputeMemoryWritability marks every memory in m writable iff at least
// one $memwr cell targets it (spec.md section 3: "Writable iff some
// memwr targets it; otherwise read-only constant"). Safe to call
// regardless of whether memories arrived via MemoryUnpack or were built
// directly.
func (m *Module) ComputeMemoryWritability() {
	for _, mem := range m.Memories {
		mem.Writable = false
	}
	for _, name := range m.SortedCellNames() {
		c := m.Cells[name]
		if c.Type == "$memwr" && c.Memory != nil {
			c.Memory.Writable = true
		}
	}
}

// UserCellModules returns, for every CellUser cell in m, the type name of
// the module it instantiates, deduplicated and sorted.
func (m *Module) UserCellModules() []string {
	seen := map[string]bool{}
	for _, name := range m.SortedCellNames() {
		c := m.Cells[name]
		if c.Kind == CellUser {
			seen[c.Type] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Design is the top-level container: every module selected for
// compilation, keyed by name.
type Design struct {
	Modules map[string]*Module
}

// NewDesign returns an empty design.
func NewDesign() *Design {
	return &Design{Modules: map[string]*Module{}}
}

// SortedModuleNames returns module names in deterministic order.
func (d *Design) SortedModuleNames() []string {
	names := make([]string, 0, len(d.Modules))
	for n := range d.Modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TopoSort returns the selected, non-blackbox modules in instantiation
// order: a module's children (the modules its user cells instantiate)
// always precede it (spec.md section 3 invariant 4, section 4.G "Top-level
// design file").
func (d *Design) TopoSort() ([]*Module, error) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}
	var order []*Module

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return errors.Errorf("instantiation cycle involving module %q", name)
		}
		mod, ok := d.Modules[name]
		if !ok || mod.Blackbox || !mod.Selected {
			state[name] = done
			return nil
		}
		state[name] = visiting
		for _, child := range mod.UserCellModules() {
			if err := visit(child); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, mod)
		return nil
	}

	for _, name := range d.SortedModuleNames() {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
