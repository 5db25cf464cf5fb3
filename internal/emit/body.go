package emit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"gatesim/internal/flow"
	"gatesim/internal/netlist"
)

// emitImplementation writes one module's eval() and commit() method
// bodies (spec.md section 4.G, "eval body" and "commit body").
func emitImplementation(p *printer, nc *nameCache, modName string, in *ModuleInput) error {
	c := &ctx{names: nc, graph: in.Graph, opt: in.Opt}

	p.openBlock("void %s::eval() {", modName)
	for _, wireName := range in.Module.SortedWireNames() {
		w := in.Module.Wires[wireName]
		if !in.Opt.LocalizedWires[w] {
			continue
		}
		name, err := nc.wire(w)
		if err != nil {
			return err
		}
		p.line("value<%d> %s;", w.Width, name)
	}

	for _, nodeID := range in.Order {
		n := in.Graph.Nodes[nodeID]
		if err := emitNode(p, c, n, in); err != nil {
			return errors.Wrapf(err, "node %d", nodeID)
		}
	}

	for _, entry := range in.Sync.Entries() {
		name, err := nc.wire(entry.Wire)
		if err != nil {
			return err
		}
		if entry.Type != netlist.STn {
			p.line("%s = false;", edgeFlagName("posedge", name, entry.Wire, entry.Bit))
		}
		if entry.Type != netlist.STp {
			p.line("%s = false;", edgeFlagName("negedge", name, entry.Wire, entry.Bit))
		}
	}
	p.closeBlock("")
	p.blank()

	return emitCommit(p, c, modName, in)
}

func emitNode(p *printer, c *ctx, n *flow.Node, in *ModuleInput) error {
	switch n.Kind {
	case flow.KindConnect:
		return c.assign(p, n.ConnectLHS, n.ConnectRHS)
	case flow.KindCell:
		return emitCell(p, c, n.Cell, in)
	case flow.KindProcess:
		return emitProcess(p, c, n.Process)
	default:
		return errors.Errorf("emit: unknown node kind %d", n.Kind)
	}
}

func emitCell(p *printer, c *ctx, cell *netlist.Cell, in *ModuleInput) error {
	switch cell.Kind {
	case netlist.CellUser:
		return nil // the instance's own eval()/commit() lifecycle is the runtime's concern
	case netlist.CellElidable:
		if cell.Type == "$pmux" {
			return emitPmux(p, c, cell)
		}
		if _, elided := c.opt.ElidedWires[cell.Ports["Y"].SoleWire()]; elided {
			return nil
		}
		expr, err := c.cellExpr(cell)
		if err != nil {
			return err
		}
		target, err := c.writeTarget(cell.Ports["Y"][0])
		if err != nil {
			return err
		}
		p.line("%s = %s;", target, expr)
		return nil
	case netlist.CellSequential:
		switch cell.Type {
		case "$dff", "$dffe", "$adff", "$dffsr", "$dlatch", "$dlatchsr", "$sr":
			return emitFlipFlop(p, c, cell, in)
		case "$memrd":
			return emitMemRead(p, c, cell, in)
		case "$memwr":
			return emitMemWrite(p, c, cell, in)
		case "$meminit":
			return nil // consumed by netlist.CollectMemInit before scheduling; never reaches eval()
		default:
			return errors.Errorf("emit: unsupported sequential cell type %q", cell.Type)
		}
	default:
		return errors.Errorf("emit: unknown cell kind for %q", cell.Name)
	}
}

// emitPmux renders a $pmux cell's Y output as an if/else-if chain over
// each bit of S, defaulting to A (spec.md section 4.G).
func emitPmux(p *printer, c *ctx, cell *netlist.Cell) error {
	target, err := c.writeTarget(cell.Ports["Y"][0])
	if err != nil {
		return err
	}
	sSig := cell.Ports["S"]
	bSig := cell.Ports["B"]
	width := cell.Ports["A"].Width()

	first := true
	for bit := 0; bit < sSig.Width(); bit++ {
		sBitExpr, err := c.readSignal(sliceSignal(sSig, bit, 1))
		if err != nil {
			return err
		}
		cond := sBitExpr + ".is_fully_ones()"
		if first {
			p.openBlock("if (%s) {", cond)
			first = false
		} else {
			p.elseIfBlock("%s", cond)
		}
		bExpr, err := c.readSignal(sliceSignal(bSig, bit*width, width))
		if err != nil {
			return err
		}
		p.line("%s = %s;", target, bExpr)
	}
	aExpr, err := c.readSignal(cell.Ports["A"])
	if err != nil {
		return err
	}
	p.elseBlock()
	p.line("%s = %s;", target, aExpr)
	p.closeBlock("")
	return nil
}

func sliceSignal(sig netlist.Signal, offset, width int) netlist.Signal {
	var out netlist.Signal
	remaining := width
	pos := 0
	for _, ch := range sig {
		cw := ch.Width
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
			if ch.IsConst() {
				out = append(out, netlist.Chunk{Const: ch.Const[start : start+take], Width: take})
			} else {
				out = append(out, netlist.Chunk{Wire: ch.Wire, Offset: ch.Offset + start, Width: take})
			}
			remaining -= take
		}
		pos += cw
		if remaining == 0 {
			break
		}
	}
	return out
}

// edgeCond builds the boolean condition gating an edge-triggered block
// for a single-bit clock signal, consulting the module's sync-type map
// for the posedge_/negedge_ flag name.
func edgeCond(c *ctx, in *ModuleInput, clk netlist.Signal, polarity int64) (string, error) {
	w, bit, err := in.Module.SigMap.SingleBit(clk)
	if err != nil {
		return "", errors.Wrap(err, "edge signal")
	}
	name, err := c.names.wire(w)
	if err != nil {
		return "", err
	}
	if polarity != 0 {
		return edgeFlagName("posedge", name, w, bit), nil
	}
	return edgeFlagName("negedge", name, w, bit), nil
}

func emitFlipFlop(p *printer, c *ctx, cell *netlist.Cell, in *ModuleInput) error {
	qSig := cell.Ports["Q"]
	width := qSig.Width()

	assignQD := func() error {
		d, err := c.readSignal(cell.Ports["D"])
		if err != nil {
			return err
		}
		target, err := c.writeTarget(qSig[0])
		if err != nil {
			return err
		}
		p.line("%s = %s;", target, d)
		return nil
	}

	guardEnable := func(body func() error) error {
		enSig, hasEn := cell.Ports["EN"]
		if !hasEn {
			return body()
		}
		enExpr, err := c.readSignal(enSig)
		if err != nil {
			return err
		}
		cond := enExpr + ".is_fully_ones()"
		if cell.Params["EN_POLARITY"] == 0 {
			cond = "!(" + cond + ")"
		}
		p.openBlock("if (%s) {", cond)
		if err := body(); err != nil {
			return err
		}
		p.closeBlock("")
		return nil
	}

	if clkSig, hasClk := cell.Ports["CLK"]; hasClk {
		cond, err := edgeCond(c, in, clkSig, cell.Params["CLK_POLARITY"])
		if err != nil {
			return err
		}
		p.openBlock("if (%s) {", cond)
		if err := guardEnable(assignQD); err != nil {
			return err
		}
		p.closeBlock("")
	} else if enSig, hasEn := cell.Ports["EN"]; hasEn {
		// Level-sensitive latch.
		enExpr, err := c.readSignal(enSig)
		if err != nil {
			return err
		}
		cond := enExpr + ".is_fully_ones()"
		if cell.Params["EN_POLARITY"] == 0 {
			cond = "!(" + cond + ")"
		}
		p.openBlock("if (%s) {", cond)
		if err := assignQD(); err != nil {
			return err
		}
		p.closeBlock("")
	}

	if arstSig, has := cell.Ports["ARST"]; has {
		arstExpr, err := c.readSignal(arstSig)
		if err != nil {
			return err
		}
		cond := arstExpr + ".is_fully_ones()"
		if cell.Params["ARST_POLARITY"] == 0 {
			cond = "!(" + cond + ")"
		}
		target, err := c.writeTarget(qSig[0])
		if err != nil {
			return err
		}
		p.openBlock("if (%s) {", cond)
		p.line("%s = %s;", target, constLiteral(netlist.NewBitVector(uint64(cell.Params["ARST_VALUE"]), width)))
		p.closeBlock("")
	}

	if setSig, has := cell.Ports["SET"]; has {
		if err := emitBitwiseForce(p, c, qSig, setSig, cell.Params["SET_POLARITY"], true); err != nil {
			return err
		}
	}
	// CLR is applied after SET so it takes priority (spec.md section 4.G).
	if clrSig, has := cell.Ports["CLR"]; has {
		if err := emitBitwiseForce(p, c, qSig, clrSig, cell.Params["CLR_POLARITY"], false); err != nil {
			return err
		}
	}
	return nil
}

// emitBitwiseForce implements SET's "bitwise update with SET-polarity-
// adjusted mask" and CLR's "bitwise clear" (spec.md section 4.G):
// Q.next = Q.next.update(mask, setValue ? ones : zeros), where mask is
// the force signal itself or its complement depending on polarity.
func emitBitwiseForce(p *printer, c *ctx, qSig, forceSig netlist.Signal, polarity int64, toOnes bool) error {
	maskExpr, err := c.readSignal(forceSig)
	if err != nil {
		return err
	}
	if polarity == 0 {
		maskExpr = maskExpr + ".bit_not()"
	}
	target, err := c.writeTarget(qSig[0])
	if err != nil {
		return err
	}
	width := qSig.Width()
	valueLit := constLiteral(netlist.NewBitVector(0, width))
	if toOnes {
		ones := make(netlist.BitVector, width)
		for i := range ones {
			ones[i] = netlist.Bit1
		}
		valueLit = constLiteral(ones)
	}
	p.line("%s = %s.update(%s, %s);", target, target, maskExpr, valueLit)
	return nil
}

// emitMemRead renders a clocked memory read port: bounds-checked index,
// a transparent-for snapshot when the memory is writable, else a direct
// array read, zero on an invalid index (spec.md section 4.G, "Memory
// read").
func emitMemRead(p *printer, c *ctx, cell *netlist.Cell, in *ModuleInput) error {
	mem := cell.Memory
	memName, err := c.names.memory(mem)
	if err != nil {
		return err
	}
	dataTarget, err := c.writeTarget(cell.Ports["DATA"][0])
	if err != nil {
		return err
	}
	addrExpr, err := c.readSignal(cell.Ports["ADDR"])
	if err != nil {
		return err
	}

	body := func() error {
		idxVar := "idx_" + memName
		p.line("auto %s = memory_index(%s.val(), %d, %d);", idxVar, addrExpr, mem.StartOffset, mem.Size)
		p.openBlock("if (%s.valid) {", idxVar)
		if mem.Writable {
			tmpVar := "rd_tmp_" + memName
			p.line("auto %s = %s[%s.index];", tmpVar, memName, idxVar)
			writers := in.MemPlan.TransparentFor[cell]
			for _, w := range writers {
				wEn, err := c.readSignal(w.Ports["EN"])
				if err != nil {
					return err
				}
				wAddr, err := c.readSignal(w.Ports["ADDR"])
				if err != nil {
					return err
				}
				wData, err := c.readSignal(w.Ports["DATA"])
				if err != nil {
					return err
				}
				p.openBlock("if (%s.val() == %s.val()) {", wAddr, addrExpr)
				p.line("%s = %s.update(%s, %s);", tmpVar, tmpVar, wEn, wData)
				p.closeBlock("")
			}
			p.line("%s = %s;", dataTarget, tmpVar)
		} else {
			p.line("%s = %s[%s.index];", dataTarget, memName, idxVar)
		}
		p.elseBlock()
		p.line("%s = %s;", dataTarget, constLiteral(netlist.NewBitVector(0, cell.Ports["DATA"].Width())))
		p.closeBlock("")
		return nil
	}

	if clkSig, hasClk := cell.Ports["CLK"]; hasClk && len(clkSig) > 0 {
		cond, err := edgeCond(c, in, clkSig, cell.Params["CLK_POLARITY"])
		if err != nil {
			return err
		}
		if enSig, hasEn := cell.Ports["EN"]; hasEn {
			enExpr, err := c.readSignal(enSig)
			if err != nil {
				return err
			}
			p.openBlock("if (%s && (%s).is_fully_ones()) {", cond, enExpr)
		} else {
			p.openBlock("if (%s) {", cond)
		}
		if err := body(); err != nil {
			return err
		}
		p.closeBlock("")
		return nil
	}
	return body()
}

// emitMemWrite renders a memory write port: bounds-check then call
// memory.update(index, DATA, EN, PRIORITY) (spec.md section 4.G, "Memory
// write"), guarded by the clock edge when the port is clocked -- a
// clocked $memwr shares the same edge-guard wrapping as a clocked
// $memrd (original_source backends/cxxrtl/cxxrtl.cc's memory-port
// rendering guards both the same way).
func emitMemWrite(p *printer, c *ctx, cell *netlist.Cell, in *ModuleInput) error {
	mem := cell.Memory
	memName, err := c.names.memory(mem)
	if err != nil {
		return err
	}
	addrExpr, err := c.readSignal(cell.Ports["ADDR"])
	if err != nil {
		return err
	}
	enExpr, err := c.readSignal(cell.Ports["EN"])
	if err != nil {
		return err
	}
	dataExpr, err := c.readSignal(cell.Ports["DATA"])
	if err != nil {
		return err
	}

	body := func() error {
		idxVar := "idx_" + memName
		p.line("auto %s = memory_index(%s.val(), %d, %d);", idxVar, addrExpr, mem.StartOffset, mem.Size)
		p.openBlock("if (%s.valid) {", idxVar)
		p.line("%s.update(%s.index, %s, %s, %d);", memName, idxVar, dataExpr, enExpr, cell.Params["PRIORITY"])
		p.closeBlock("")
		return nil
	}

	if clkSig, hasClk := cell.Ports["CLK"]; hasClk && len(clkSig) > 0 {
		cond, err := edgeCond(c, in, clkSig, cell.Params["CLK_POLARITY"])
		if err != nil {
			return err
		}
		p.openBlock("if (%s) {", cond)
		if err := body(); err != nil {
			return err
		}
		p.closeBlock("")
		return nil
	}
	return body()
}

// emitProcess renders a process's root case as an if/else-if tree, then
// per-sync-rule edge-guarded (or level-guarded) blocks (spec.md section
// 4.G, "Process").
func emitProcess(p *printer, c *ctx, proc *netlist.Process) error {
	if err := renderCase(p, c, proc.Root); err != nil {
		return err
	}
	for _, s := range proc.Syncs {
		if err := renderSync(p, c, s); err != nil {
			return err
		}
	}
	return nil
}

func renderCase(p *printer, c *ctx, cs *netlist.Case) error {
	if cs == nil {
		return nil
	}
	for _, a := range cs.Actions {
		if err := c.assign(p, a.LHS, a.RHS); err != nil {
			return err
		}
	}
	for _, sw := range cs.Switches {
		if err := renderSwitch(p, c, sw); err != nil {
			return err
		}
	}
	return nil
}

func renderSwitch(p *printer, c *ctx, sw *netlist.Switch) error {
	selExpr, err := c.readSignal(sw.Selector)
	if err != nil {
		return err
	}
	c.switchCounter++
	tmpVar := fmt.Sprintf("sel_%d", c.switchCounter)
	p.line("auto %s = %s.val();", tmpVar, selExpr)

	first := true
	for _, sc := range sw.Cases {
		emitSwitchCaseAttrComments(p, sc)
		if len(sc.Patterns) == 0 {
			if first {
				p.openBlock("if (true) {")
			} else {
				p.elseBlock()
			}
		} else {
			conds := make([]string, 0, len(sc.Patterns))
			for _, pat := range sc.Patterns {
				cond, err := patternCond(tmpVar, pat)
				if err != nil {
					return err
				}
				conds = append(conds, cond)
			}
			condStr := strings.Join(conds, " || ")
			if first {
				p.openBlock("if (%s) {", condStr)
			} else {
				p.elseIfBlock("%s", condStr)
			}
		}
		first = false
		if err := renderCase(p, c, sc.Body); err != nil {
			return err
		}
	}
	p.closeBlock("")
	return nil
}

func emitSwitchCaseAttrComments(p *printer, sc *netlist.SwitchCase) {
	if len(sc.Attrs) == 0 {
		return
	}
	keys := make([]string, 0, len(sc.Attrs))
	for k := range sc.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.line("// %s = %s", k, sc.Attrs[k])
	}
}

// patternCond builds a case-pattern comparison: direct equality for a
// fully-defined constant, mask-equality against the defined bits
// otherwise (spec.md section 4.G).
func patternCond(tmpVar string, pat netlist.Signal) (string, error) {
	if len(pat) != 1 || !pat[0].IsConst() {
		return "", errors.New("emit: unsupported case pattern (not a single constant)")
	}
	bv := pat[0].Const
	if bv.AllDefined() {
		return fmt.Sprintf("value<%d>{%s} == value<%d>{%#x}", bv.Width(), tmpVar, bv.Width(), bv.Uint64()), nil
	}
	mask := bv.Mask()
	defined := netlist.NewBitVector(bv.Uint64(), bv.Width())
	return fmt.Sprintf("value<%d>{%s}.bit_xor(%s).bit_and(%s).bit_not().is_fully_ones()",
		bv.Width(), tmpVar, constLiteral(defined), constLiteral(mask)), nil
}

// renderSync emits an edge- or level-guarded block mirroring a sync
// rule's trigger signal, applying all its actions inside (spec.md
// section 4.G, "After the root case, emit per-sync-rule edge-guarded
// blocks").
func renderSync(p *printer, c *ctx, s *netlist.Sync) error {
	cond, err := syncCond(c, s)
	if err != nil {
		return err
	}
	p.openBlock("if (%s) {", cond)
	for _, a := range s.Actions {
		if err := c.assign(p, a.LHS, a.RHS); err != nil {
			return err
		}
	}
	p.closeBlock("")
	return nil
}

func syncCond(c *ctx, s *netlist.Sync) (string, error) {
	expr, err := c.readSignal(s.Signal)
	if err != nil {
		return "", err
	}
	switch s.Type {
	case netlist.ST1, netlist.STa:
		return expr + ".is_fully_ones()", nil
	case netlist.ST0:
		return "!(" + expr + ".is_fully_ones())", nil
	case netlist.STp:
		flag, err := edgeFlagFromSignal(c, s.Signal, true)
		if err != nil {
			return "", err
		}
		return flag, nil
	case netlist.STn:
		flag, err := edgeFlagFromSignal(c, s.Signal, false)
		if err != nil {
			return "", err
		}
		return flag, nil
	case netlist.STe:
		p1, err := edgeFlagFromSignal(c, s.Signal, true)
		if err != nil {
			return "", err
		}
		n1, err := edgeFlagFromSignal(c, s.Signal, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s || %s)", p1, n1), nil
	default:
		return "", errors.Errorf("emit: sync rule on %q has unsupported type %s", signalLabel(s.Signal), s.Type)
	}
}

func edgeFlagFromSignal(c *ctx, sig netlist.Signal, posedge bool) (string, error) {
	w, bit, err := singleBitOf(sig)
	if err != nil {
		return "", err
	}
	name, err := c.names.wire(w)
	if err != nil {
		return "", err
	}
	kind := "negedge"
	if posedge {
		kind = "posedge"
	}
	return edgeFlagName(kind, name, w, bit), nil
}

func singleBitOf(sig netlist.Signal) (*netlist.Wire, int, error) {
	if len(sig) != 1 || sig[0].IsConst() || sig[0].Width != 1 {
		return nil, 0, errors.New("emit: sync signal is not a single wire bit")
	}
	return sig[0].Wire, sig[0].Offset, nil
}

// signalLabel renders a diagnostic-friendly identifier for sig: the
// driving wire names, or "<const>" for a signal with no wire at all.
func signalLabel(sig netlist.Signal) string {
	var names []string
	for _, w := range sig.Wires() {
		names = append(names, w.Name)
	}
	if len(names) == 0 {
		return "<const>"
	}
	return strings.Join(names, ",")
}

// emitCommit writes one module's commit() method: transition every
// ordinary wire's curr from next, folding any change into the return
// value, recomputing the posedge_/negedge_ flags that eval() cleared
// (spec.md section 4.G, "commit body"; the Open Question resolution in
// DESIGN.md: posedge and negedge are computed from mutually exclusive
// branches on the bit's old-vs-new curr value, so at most one transitions
// true per commit for a given bit), then folding in writable-memory and
// user-cell-instance commits.
func emitCommit(p *printer, c *ctx, modName string, in *ModuleInput) error {
	p.openBlock("bool %s::commit() {", modName)
	p.line("bool changed = false;")

	for _, wireName := range in.Module.SortedWireNames() {
		w := in.Module.Wires[wireName]
		if _, elided := in.Opt.ElidedWires[w]; elided {
			continue
		}
		if in.Opt.LocalizedWires[w] {
			continue
		}
		name, err := c.names.wire(w)
		if err != nil {
			return err
		}
		bits := in.Sync.WireBits(w)
		p.openBlock("if (%s.next != %s.curr) {", name, name)
		p.line("changed = true;")
		for _, bit := range bits {
			t, _ := in.Sync.TypeOf(w, bit)
			if !t.IsEdge() {
				continue
			}
			oldVal := fmt.Sprintf("%s.curr.slice<%d,%d>().is_fully_ones()", name, bit, bit)
			newVal := fmt.Sprintf("%s.next.slice<%d,%d>().is_fully_ones()", name, bit, bit)
			if t != netlist.STn {
				p.line("%s = !(%s) && (%s);", edgeFlagName("posedge", name, w, bit), oldVal, newVal)
			}
			if t != netlist.STp {
				p.line("%s = (%s) && !(%s);", edgeFlagName("negedge", name, w, bit), oldVal, newVal)
			}
		}
		p.line("%s.curr = %s.next;", name, name)
		p.closeBlock("")
	}

	for _, memName := range in.Module.SortedMemoryNames() {
		mem := in.Module.Memories[memName]
		if !mem.Writable {
			continue
		}
		name, err := c.names.memory(mem)
		if err != nil {
			return err
		}
		p.line("changed |= %s.commit();", name)
	}

	for _, cellName := range in.Module.SortedCellNames() {
		cell := in.Module.Cells[cellName]
		if cell.Kind != netlist.CellUser {
			continue
		}
		name, err := c.names.cell(cell)
		if err != nil {
			return err
		}
		p.line("changed |= %s.commit();", name)
	}

	p.line("return changed;")
	p.closeBlock("")
	p.blank()
	return nil
}
