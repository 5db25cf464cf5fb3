package emit

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"gatesim/internal/flow"
	"gatesim/internal/netlist"
	"gatesim/internal/optimize"
)

// ctx bundles the per-module analysis results the expression renderer
// needs: the name cache, the flow graph (for DefNode / UserCellOutputMap
// lookups), and the optimizer's decisions (for elided-wire inlining).
type ctx struct {
	names *nameCache
	graph *flow.Graph
	opt   *optimize.Result

	// switchCounter numbers temporary selector variables within one
	// module's eval() body; scoped to ctx (not a package-level global) so
	// output stays byte-identical across repeated Emit calls in the same
	// process (spec.md section 8 invariant 8).
	switchCounter int
}

// readSignal renders a full read expression for sig, concatenating
// chunks right-to-left via the runtime's .concat() operator (spec.md
// section 4.G, "Sub-expression inlining").
func (c *ctx) readSignal(sig netlist.Signal) (string, error) {
	if len(sig) == 0 {
		return "", errors.New("emit: empty signal")
	}
	exprs := make([]string, len(sig))
	for i, chunk := range sig {
		e, err := c.readChunk(chunk)
		if err != nil {
			return "", err
		}
		exprs[i] = e
	}
	// Chunk 0 holds the low bits; build {high, ..., low} via nested
	// .concat() calls applied from the most significant chunk down.
	result := exprs[len(exprs)-1]
	for i := len(exprs) - 2; i >= 0; i-- {
		result = fmt.Sprintf("%s.concat(%s)", result, exprs[i])
	}
	return result, nil
}

// readChunk renders one chunk: a constant literal, an inlined elided-wire
// expression, or a plain wire-register read with a slice suffix when the
// chunk does not cover the whole wire.
func (c *ctx) readChunk(chunk netlist.Chunk) (string, error) {
	if chunk.IsConst() {
		return constLiteral(chunk.Const), nil
	}
	if defNode, ok := c.opt.ElidedWires[chunk.Wire]; ok && chunkIsWholeWire(chunk) {
		return c.inlineDef(chunk.Wire, defNode)
	}
	name, err := c.names.wire(chunk.Wire)
	if err != nil {
		return "", err
	}
	expr := name
	if !c.opt.LocalizedWires[chunk.Wire] {
		expr += ".curr"
	}
	if !chunk.WholeWire() {
		expr = fmt.Sprintf("%s.slice<%d,%d>()", expr, chunk.Offset+chunk.Width-1, chunk.Offset)
	}
	return expr, nil
}

func chunkIsWholeWire(c netlist.Chunk) bool { return c.WholeWire() }

// inlineDef substitutes the defining node's expression for an elided
// wire at its use site: the rhs for a connection, the cell-expression
// form for an elidable cell, or the instance's output-port read for a
// user cell (spec.md section 4.G).
func (c *ctx) inlineDef(w *netlist.Wire, n *flow.Node) (string, error) {
	switch n.Kind {
	case flow.KindConnect:
		return c.readSignal(n.ConnectRHS)
	case flow.KindCell:
		if n.Cell.Kind == netlist.CellUser {
			cellName, err := c.names.cell(n.Cell)
			if err != nil {
				return "", err
			}
			port := c.graph.UserCellOutputMap[n.Cell][w]
			return fmt.Sprintf("%s.%s.curr", cellName, port), nil
		}
		return c.cellExpr(n.Cell)
	default:
		return "", errors.Errorf("emit: wire %q is elided but its def node is not inlineable", w.Name)
	}
}

// cellExpr renders the expression form of an elidable built-in cell's Y
// output: a runtime helper call named from the cell's type and
// signedness/width parameters (spec.md section 4.G, section 6 "helper
// functions <op>_<sign><sign><width>").
func (c *ctx) cellExpr(cell *netlist.Cell) (string, error) {
	op := strings.TrimPrefix(cell.Type, "$")
	width := cell.Ports["Y"].Width()

	switch cell.Type {
	case "$mux":
		a, err := c.readSignal(cell.Ports["A"])
		if err != nil {
			return "", err
		}
		b, err := c.readSignal(cell.Ports["B"])
		if err != nil {
			return "", err
		}
		s, err := c.readSignal(cell.Ports["S"])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s.is_fully_ones() ? %s : %s)", s, b, a), nil
	case "$concat":
		a, err := c.readSignal(cell.Ports["A"])
		if err != nil {
			return "", err
		}
		b, err := c.readSignal(cell.Ports["B"])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s.concat(%s)", b, a), nil
	case "$slice":
		a, err := c.readSignal(cell.Ports["A"])
		if err != nil {
			return "", err
		}
		offset := cell.Params["OFFSET"]
		return fmt.Sprintf("%s.slice<%d,%d>()", a, offset+int64(width)-1, offset), nil
	}

	sign := func(port string) string {
		if cell.Params[port+"_SIGNED"] != 0 {
			return "s"
		}
		return "u"
	}

	if _, isUnary := cell.Ports["A"]; isUnary && cell.Ports["B"] == nil {
		a, err := c.readSignal(cell.Ports["A"])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s_%s%d(%s)", op, sign("A"), width, a), nil
	}

	a, err := c.readSignal(cell.Ports["A"])
	if err != nil {
		return "", err
	}
	b, err := c.readSignal(cell.Ports["B"])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s_%s%s%d(%s, %s)", op, sign("A"), sign("B"), width, a, b), nil
}

// constLiteral renders a constant BitVector as a value<N> literal.
func constLiteral(bv netlist.BitVector) string {
	if bv.AllDefined() {
		return fmt.Sprintf("value<%d>{%#x}", bv.Width(), bv.Uint64())
	}
	return fmt.Sprintf("value<%d>::from_bits(%q)", bv.Width(), bv.String())
}

// writeTarget renders the lvalue expression for one non-elided wire
// chunk: mangled.next, sliced when the chunk does not cover the whole
// wire.
func (c *ctx) writeTarget(chunk netlist.Chunk) (string, error) {
	name, err := c.names.wire(chunk.Wire)
	if err != nil {
		return "", err
	}
	if c.opt.LocalizedWires[chunk.Wire] {
		if chunk.WholeWire() {
			return name, nil
		}
		return fmt.Sprintf("%s.slice<%d,%d>()", name, chunk.Offset+chunk.Width-1, chunk.Offset), nil
	}
	if chunk.WholeWire() {
		return name + ".next", nil
	}
	return fmt.Sprintf("%s.next.slice<%d,%d>()", name, chunk.Offset+chunk.Width-1, chunk.Offset), nil
}

// rhsSlice extracts the sub-range [offset, offset+width) of a read
// expression for a multi-chunk lvalue assignment; complex expressions
// are materialized via .val() first (spec.md section 4.G, "Where a
// value is required ... wrap complex expressions with a materialization
// .val()").
func rhsSlice(expr string, offset, width, total int) string {
	if offset == 0 && width == total {
		return expr
	}
	return fmt.Sprintf("%s.val().slice<%d,%d>()", expr, offset+width-1, offset)
}

// assign emits one or more `lhs = rhs;` style statements for an action,
// skipping wires the optimizer elided (spec.md section 4.G: "if lhs's
// wire is elided, emit nothing").
func (c *ctx) assign(p *printer, lhs, rhs netlist.Signal) error {
	if len(lhs) == 1 && !lhs[0].IsConst() {
		if _, elided := c.opt.ElidedWires[lhs[0].Wire]; elided && lhs[0].WholeWire() {
			return nil
		}
	}
	rhsExpr, err := c.readSignal(rhs)
	if err != nil {
		return err
	}
	total := lhs.Width()
	if len(lhs) == 1 {
		target, err := c.writeTarget(lhs[0])
		if err != nil {
			return err
		}
		p.line("%s = %s;", target, rhsExpr)
		return nil
	}
	// Multi-chunk lvalue: one statement per chunk, each slicing its
	// corresponding range out of the materialized rhs.
	offset := 0
	for _, chunk := range lhs {
		if chunk.IsConst() {
			return errors.New("emit: constant chunk on assignment lvalue")
		}
		target, err := c.writeTarget(chunk)
		if err != nil {
			return err
		}
		p.line("%s = %s;", target, rhsSlice(rhsExpr, offset, chunk.Width, total))
		offset += chunk.Width
	}
	return nil
}
