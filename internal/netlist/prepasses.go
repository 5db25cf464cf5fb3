package netlist

import (
	"sort"

	"github.com/pkg/errors"
)

// This file implements the pre-pass interface spec.md section 6 names as
// external collaborators (proc_prune, proc_clean, proc_init, memory_unpack,
// splitnets -driver, opt_clean -purge). They are idempotent methods on
// *Design/*Module so the pipeline driver in internal/pipeline has a
// concrete netlist container to invoke, following the "walk, mutate in
// place, return error" shape of the teacher's pass Run methods.

// ProcPrune drops case actions already fully shadowed by a later action on
// an identical lvalue within the same case, recursing into every switch
// case. Sync rules and switch branches are left as they are. This is a
// conservative dead-code removal, safe to run repeatedly.
func (d *Design) ProcPrune() error {
	for _, modName := range d.SortedModuleNames() {
		mod := d.Modules[modName]
		for _, p := range mod.Processes {
			pruneCase(p.Root)
		}
	}
	return nil
}

func pruneCase(c *Case) {
	if c == nil {
		return
	}
	// Drop actions whose lvalue is identically reassigned by a later
	// action in the same case (last-assignment-wins, so the earlier one
	// is dead).
	kept := make([]Action, 0, len(c.Actions))
	for i, a := range c.Actions {
		shadowed := false
		for j := i + 1; j < len(c.Actions); j++ {
			if c.Actions[j].LHS.Equal(a.LHS) {
				shadowed = true
				break
			}
		}
		if !shadowed {
			kept = append(kept, a)
		}
	}
	c.Actions = kept
	for _, sw := range c.Switches {
		for _, sc := range sw.Cases {
			pruneCase(sc.Body)
		}
	}
}

// ProcClean removes processes left with an empty root case and no sync
// rules after ProcPrune, and drops switches with no cases.
func (d *Design) ProcClean() error {
	for _, modName := range d.SortedModuleNames() {
		mod := d.Modules[modName]
		cleanCase(mod.SigMap, mod)
		var kept []*Process
		for _, p := range mod.Processes {
			if len(p.Root.Actions) == 0 && len(p.Root.Switches) == 0 && len(p.Syncs) == 0 {
				continue
			}
			kept = append(kept, p)
		}
		mod.Processes = kept
	}
	return nil
}

func cleanCase(sm *SigMap, mod *Module) {
	for _, p := range mod.Processes {
		cleanCaseRec(p.Root)
	}
}

func cleanCaseRec(c *Case) {
	if c == nil {
		return
	}
	var kept []*Switch
	for _, sw := range c.Switches {
		var keptCases []*SwitchCase
		for _, sc := range sw.Cases {
			cleanCaseRec(sc.Body)
			if len(sc.Body.Actions) == 0 && len(sc.Body.Switches) == 0 {
				continue
			}
			keptCases = append(keptCases, sc)
		}
		sw.Cases = keptCases
		if len(sw.Cases) > 0 {
			kept = append(kept, sw)
		}
	}
	c.Switches = kept
}

// ProcInit resolves init-type (STi) sync rules: per spec.md's NON-GOALS
// ("simulation semantics for init-type sync rules (delegated)") and
// section 4.H step 1, an STi rule's constant actions are moved into the
// target wire's Init attribute and the rule itself is removed, so that by
// the time analysis runs no process carries an STi sync.
func (d *Design) ProcInit() error {
	for _, modName := range d.SortedModuleNames() {
		mod := d.Modules[modName]
		for _, p := range mod.Processes {
			var kept []*Sync
			for _, s := range p.Syncs {
				if s.Type != STi {
					kept = append(kept, s)
					continue
				}
				for _, act := range s.Actions {
					if err := applyInit(mod, act); err != nil {
						return errors.Wrapf(err, "module %q process %q", mod.Name, p.Name)
					}
				}
			}
			p.Syncs = kept
		}
	}
	return nil
}

func applyInit(mod *Module, act Action) error {
	w := act.LHS.SoleWire()
	if w == nil {
		return errors.Errorf("init action lvalue %v is not a whole-wire signal", act.LHS)
	}
	if len(act.RHS) != 1 || !act.RHS[0].IsConst() {
		return errors.Errorf("init action rvalue for %q is not a constant", w.Name)
	}
	w.Init = act.RHS[0].Const
	return nil
}

// AssertNoInitRemains is the "re-check and assert resolved" step spec.md
// section 4.H mandates after invoking proc_init: any STi rule still
// present is an internal invariant failure, not a user error.
func (d *Design) AssertNoInitRemains() error {
	for _, modName := range d.SortedModuleNames() {
		mod := d.Modules[modName]
		for _, p := range mod.Processes {
			for _, s := range p.Syncs {
				if s.Type == STi {
					return errors.Errorf("internal invariant violated: module %q process %q still has an init sync rule after proc_init", mod.Name, p.Name)
				}
			}
		}
	}
	return nil
}

// MemoryUnpack splits any packed "$mem" cell into a Memory record plus
// per-port memrd/memwr cells. Packed-memory cells encode their read/write
// ports as indexed parameters (RD_PORTS/WR_PORTS) rather than separate
// cells; unpacking materializes one $memrd or $memwr cell per port so the
// rest of the pipeline only ever sees the already-split form spec.md's
// flow-graph builder and memory-port planner expect.
func (d *Design) MemoryUnpack() error {
	for _, modName := range d.SortedModuleNames() {
		mod := d.Modules[modName]
		for _, name := range mod.SortedCellNames() {
			c := mod.Cells[name]
			if c.Type != "$mem" {
				continue
			}
			if err := unpackMemCell(mod, c); err != nil {
				return errors.Wrapf(err, "module %q cell %q", mod.Name, name)
			}
			delete(mod.Cells, name)
		}
	}
	return nil
}

func unpackMemCell(mod *Module, c *Cell) error {
	width := int(c.Params["WIDTH"])
	size := int(c.Params["SIZE"])
	if width <= 0 || size <= 0 {
		return errors.Errorf("packed memory %q has invalid WIDTH/SIZE", c.Name)
	}
	mem := &Memory{Name: c.Name, Width: width, Size: size}
	mod.Memories[mem.Name] = mem

	rdPorts := int(c.Params["RD_PORTS"])
	wrPorts := int(c.Params["WR_PORTS"])
	for i := 0; i < rdPorts; i++ {
		rd := &Cell{
			Name: cellPortSubName(c.Name, "RD", i),
			Type: "$memrd",
			Kind: CellSequential,
			Ports: map[string]Signal{
				"CLK":  portSlice(c.Ports["RD_CLK"], i, 1),
				"EN":   portSlice(c.Ports["RD_EN"], i, 1),
				"ADDR": portSlice(c.Ports["RD_ADDR"], i, addrWidth(size)),
				"DATA": portSlice(c.Ports["RD_DATA"], i, width),
			},
			Params: map[string]int64{"MEMORY_SIZE": int64(size), "TRANSPARENT": c.Params["RD_TRANSPARENT_"+hexIndex(i)]},
			Memory: mem,
		}
		mod.Cells[rd.Name] = rd
	}
	for i := 0; i < wrPorts; i++ {
		wr := &Cell{
			Name: cellPortSubName(c.Name, "WR", i),
			Type: "$memwr",
			Kind: CellSequential,
			Ports: map[string]Signal{
				"CLK":  portSlice(c.Ports["WR_CLK"], i, 1),
				"EN":   portSlice(c.Ports["WR_EN"], i, width),
				"ADDR": portSlice(c.Ports["WR_ADDR"], i, addrWidth(size)),
				"DATA": portSlice(c.Ports["WR_DATA"], i, width),
			},
			Params: map[string]int64{"MEMORY_SIZE": int64(size), "PRIORITY": int64(i)},
			Memory: mem,
		}
		mod.Cells[wr.Name] = wr
	}
	mem.Writable = wrPorts > 0
	return nil
}

func cellPortSubName(base, kind string, idx int) string {
	return base + "$" + kind + hexIndex(idx)
}

func hexIndex(i int) string {
	const digits = "0123456789abcdef"
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{digits[i%16]}, b...)
		i /= 16
	}
	return string(b)
}

func addrWidth(size int) int {
	w := 0
	for (1 << w) < size {
		w++
	}
	if w == 0 {
		w = 1
	}
	return w
}

// portSlice extracts the i-th width-bit slice of a packed port signal
// that concatenates N ports side by side (the packed-memory wire
// convention: port i occupies bits [i*width, (i+1)*width)).
func portSlice(sig Signal, i, width int) Signal {
	offset := i * width
	var out Signal
	remaining := width
	pos := 0
	for _, c := range sig {
		cw := c.Width
		if pos+cw <= offset {
			pos += cw
			continue
		}
		start := 0
		if offset > pos {
			start = offset - pos
		}
		avail := cw - start
		take := avail
		if take > remaining {
			take = remaining
		}
		if take > 0 {
			out = append(out, sliceChunk(c, start, take))
			remaining -= take
		}
		pos += cw
		if remaining == 0 {
			break
		}
	}
	return out
}

func sliceChunk(c Chunk, start, width int) Chunk {
	if c.IsConst() {
		return Chunk{Const: c.Const[start : start+width], Width: width}
	}
	return Chunk{Wire: c.Wire, Offset: c.Offset + start, Width: width}
}

// AssertNoPackedMemoryRemains is the corresponding re-check for packed
// memories after MemoryUnpack.
func (d *Design) AssertNoPackedMemoryRemains() error {
	for _, modName := range d.SortedModuleNames() {
		mod := d.Modules[modName]
		for _, name := range mod.SortedCellNames() {
			if mod.Cells[name].Type == "$mem" {
				return errors.Errorf("internal invariant violated: module %q still has a packed memory cell %q after memory_unpack", mod.Name, name)
			}
		}
	}
	return nil
}

// CollectMemInit gathers every $meminit cell's initial content into its
// target memory's Init, sorted PRIORITY descending then ADDR ascending
// (spec.md section 5's meminit determinism rule), then removes the cells
// themselves: a $meminit cell contributes no eval-time behavior, only
// declarative memory content, so by the time internal/emit walks a
// module's schedule none should remain for it to render.
func (d *Design) CollectMemInit() error {
	for _, modName := range d.SortedModuleNames() {
		mod := d.Modules[modName]
		type pending struct {
			priority int64
			mem      *Memory
			entry    MemInitEntry
		}
		var pendings []pending
		for _, name := range mod.SortedCellNames() {
			c := mod.Cells[name]
			if c.Type != "$meminit" {
				continue
			}
			if c.Memory == nil {
				return errors.Errorf("module %q cell %q: $meminit with no target memory", modName, name)
			}
			addrBits, err := signalConstBits(c.Ports["ADDR"])
			if err != nil {
				return errors.Wrapf(err, "module %q cell %q ADDR", modName, name)
			}
			dataBits, err := signalConstBits(c.Ports["DATA"])
			if err != nil {
				return errors.Wrapf(err, "module %q cell %q DATA", modName, name)
			}
			pendings = append(pendings, pending{
				priority: c.Params["PRIORITY"],
				mem:      c.Memory,
				entry: MemInitEntry{
					Addr:  addrBits.Uint64(),
					Words: int(c.Params["WORDS"]),
					Width: int(c.Params["WIDTH"]),
					Data:  dataBits,
				},
			})
			delete(mod.Cells, name)
		}
		sort.SliceStable(pendings, func(i, j int) bool {
			if pendings[i].priority != pendings[j].priority {
				return pendings[i].priority > pendings[j].priority
			}
			return pendings[i].entry.Addr < pendings[j].entry.Addr
		})
		for _, pd := range pendings {
			pd.mem.Init = append(pd.mem.Init, pd.entry)
		}
	}
	return nil
}

// signalConstBits concatenates sig's chunks into a single BitVector,
// erroring if any chunk is wire-backed rather than constant -- $meminit's
// ADDR and DATA ports are always constant per spec.md section 3.
func signalConstBits(sig Signal) (BitVector, error) {
	var bits BitVector
	for _, c := range sig {
		if !c.IsConst() {
			return nil, errors.New("signal is not a constant")
		}
		bits = append(bits, c.Const...)
	}
	return bits, nil
}

// AssertNoMemInitRemains is the corresponding re-check for $meminit cells
// after CollectMemInit.
func (d *Design) AssertNoMemInitRemains() error {
	for _, modName := range d.SortedModuleNames() {
		mod := d.Modules[modName]
		for _, name := range mod.SortedCellNames() {
			if mod.Cells[name].Type == "$meminit" {
				return errors.Errorf("internal invariant violated: module %q still has a $meminit cell %q after collect_mem_init", mod.Name, name)
			}
		}
	}
	return nil
}

// SplitNets stands in for "splitnets -driver" and is only invoked at
// optimization level >= 5 (spec.md section 4.H step 2). It collects the
// bit ranges that process cases drive on each wire but makes no
// structural change: no alias wires are created and the netlist is left
// as it is.
func (d *Design) SplitNets() error {
	for _, modName := range d.SortedModuleNames() {
		mod := d.Modules[modName]
		drivers := collectWholeWireDrivers(mod)
		for _, wireName := range sortedKeys(drivers) {
			ranges := drivers[wireName]
			if len(ranges) <= 1 {
				continue
			}
			// Multiple disjoint drivers on one wire: nothing further to
			// do structurally here, since each driver already targets a
			// distinct Chunk range of the same *Wire -- splitnets'
			// observable effect (distinct alias wires) only matters to
			// an HDL-level driver-conflict checker, which is out of
			// scope (spec.md section 1, container passes are external).
			_ = ranges
		}
	}
	return nil
}

func collectWholeWireDrivers(mod *Module) map[string][][2]int {
	out := map[string][][2]int{}
	record := func(sig Signal) {
		for _, c := range sig {
			if c.IsConst() {
				continue
			}
			out[c.Wire.Name] = append(out[c.Wire.Name], [2]int{c.Offset, c.Width})
		}
	}
	for _, p := range mod.Processes {
		recordCaseLHS(p.Root, record)
	}
	return out
}

func recordCaseLHS(c *Case, record func(Signal)) {
	if c == nil {
		return
	}
	for _, a := range c.Actions {
		record(a.LHS)
	}
	for _, sw := range c.Switches {
		for _, sc := range sw.Cases {
			recordCaseLHS(sc.Body, record)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// OptClean implements "opt_clean -purge": remove wires with no uses and
// no Keep attribute. Every wire bound to a cell port counts as used, so no
// cell port is left referencing a purged wire. Ports, sync wires, and kept wires are never purged (spec.md invariant
// 2 extends to this pre-pass: a wire with Keep set survives even if
// unused).
func (d *Design) OptClean() error {
	for _, modName := range d.SortedModuleNames() {
		mod := d.Modules[modName]
		used := usedWires(mod)
		for _, name := range mod.SortedWireNames() {
			w := mod.Wires[name]
			if w.Keep || w.Port != PortNone || used[w] {
				continue
			}
			delete(mod.Wires, name)
		}
	}
	return nil
}

func usedWires(mod *Module) map[*Wire]bool {
	used := map[*Wire]bool{}
	markSig := func(sig Signal) {
		for _, c := range sig {
			if !c.IsConst() {
				used[c.Wire] = true
			}
		}
	}
	for _, conn := range mod.Connections {
		markSig(conn.RHS)
	}
	for _, name := range mod.SortedCellNames() {
		c := mod.Cells[name]
		for _, port := range sortedKeys(c.Ports) {
			markSig(c.Ports[port])
		}
	}
	var walk func(*Case)
	walk = func(cs *Case) {
		if cs == nil {
			return
		}
		for _, a := range cs.Actions {
			markSig(a.RHS)
		}
		for _, sw := range cs.Switches {
			markSig(sw.Selector)
			for _, sc := range sw.Cases {
				for _, pat := range sc.Patterns {
					markSig(pat)
				}
				walk(sc.Body)
			}
		}
	}
	for _, p := range mod.Processes {
		walk(p.Root)
		for _, s := range p.Syncs {
			markSig(s.Signal)
			for _, a := range s.Actions {
				markSig(a.RHS)
			}
		}
	}
	return used
}
