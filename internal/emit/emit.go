package emit

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"gatesim/internal/flow"
	"gatesim/internal/memplan"
	"gatesim/internal/netlist"
	"gatesim/internal/optimize"
	"gatesim/internal/syncreg"
)

// ModuleInput bundles everything internal/pipeline computed for one
// module: the flow graph (B), the schedule (C), the optimizer's
// decisions (E), the sync-type map (D), and the memory-port plan (F).
type ModuleInput struct {
	Module  *netlist.Module
	Graph   *flow.Graph
	Order   []int
	Opt     *optimize.Result
	Sync    *syncreg.Registrar
	MemPlan *memplan.Plan
}

// Options configures the top-level emission (spec.md section 6, CLI).
type Options struct {
	Namespace string // default "cxxrtl_design"
	Header    bool

	// HeaderPath is the #include argument the impl file uses to reach
	// the split header, e.g. "out.h" for an invocation writing "out.cc".
	// Ignored when Header is false.
	HeaderPath string
}

// Result is the emitter's buffered output: impl is always populated;
// header is populated only when Options.Header is set.
type Result struct {
	Impl   []byte
	Header []byte
}

// Emit produces source for every module in modules, in the given
// (already topologically sorted, leaf-first) order, against the
// corresponding ModuleInput in inputs. All output is buffered and
// returned only once every module has been rendered without error,
// matching the "no partial output" discipline (spec.md section 7).
func Emit(modules []*netlist.Module, inputs map[string]*ModuleInput, opts Options) (*Result, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "cxxrtl_design"
	}
	nc := newNameCache()

	ifaces := newPrinter()
	impls := newPrinter()
	for _, mod := range modules {
		in, ok := inputs[mod.Name]
		if !ok {
			return nil, errors.Errorf("emit: no analysis input for module %q", mod.Name)
		}
		modName, err := nc.module(mod.Name)
		if err != nil {
			return nil, err
		}
		if err := emitInterface(ifaces, nc, modName, in); err != nil {
			return nil, errors.Wrapf(err, "module %q interface", mod.Name)
		}
		if err := emitImplementation(impls, nc, modName, in); err != nil {
			return nil, errors.Wrapf(err, "module %q implementation", mod.Name)
		}
	}

	guard := strings.ToUpper(namespace) + "_HEADER"

	if opts.Header {
		hp := newPrinter()
		hp.line("#ifndef %s", guard)
		hp.line("#define %s", guard)
		hp.blank()
		hp.line(`#include "gatesim_runtime.h"`)
		hp.blank()
		hp.openBlock("namespace %s {", namespace)
		hp.raw(string(ifaces.bytes()))
		hp.closeBlock("")
		hp.blank()
		hp.line("#endif // %s", guard)

		headerPath := opts.HeaderPath
		if headerPath == "" {
			headerPath = strings.ToLower(namespace) + ".h"
		}
		ip := newPrinter()
		ip.line("#include %q", headerPath)
		ip.blank()
		ip.openBlock("namespace %s {", namespace)
		ip.raw(string(impls.bytes()))
		ip.closeBlock("")

		return &Result{Impl: ip.bytes(), Header: hp.bytes()}, nil
	}

	full := newPrinter()
	full.line(`#include "gatesim_runtime.h"`)
	full.blank()
	full.openBlock("namespace %s {", namespace)
	full.raw(string(ifaces.bytes()))
	full.raw(string(impls.bytes()))
	full.closeBlock("")
	return &Result{Impl: full.bytes()}, nil
}

// emitInterface writes one module's aggregate type declaration (spec.md
// section 4.G, "Interface").
func emitInterface(p *printer, nc *nameCache, modName string, in *ModuleInput) error {
	mod := in.Module
	p.openBlock("struct %s : public module {", modName)

	for _, wireName := range mod.SortedWireNames() {
		w := mod.Wires[wireName]
		if _, elided := in.Opt.ElidedWires[w]; elided {
			continue
		}
		if in.Opt.LocalizedWires[w] {
			continue // declared as a local inside eval()
		}
		name, err := nc.wire(w)
		if err != nil {
			return err
		}
		emitAttrComments(p, w)
		p.line("wire<%d> %s;", w.Width, name)
	}

	for _, memName := range mod.SortedMemoryNames() {
		m := mod.Memories[memName]
		name, err := nc.memory(m)
		if err != nil {
			return err
		}
		kw := "memory<%d> %s"
		if !m.Writable {
			kw = "const memory<%d> %s"
		}
		if len(m.Init) == 0 {
			p.line(kw+" { %du };", m.Width, name, m.Size)
			continue
		}
		p.openBlock(kw+" { %du,", m.Width, name, m.Size)
		for _, entry := range m.Init {
			emitMemInitEntry(p, m.Width, entry)
		}
		p.closeBlock(";")
	}

	for _, cellName := range mod.SortedCellNames() {
		c := mod.Cells[cellName]
		if c.Kind != netlist.CellUser {
			continue
		}
		instName, err := nc.cell(c)
		if err != nil {
			return err
		}
		typeName, err := nc.module(c.Type)
		if err != nil {
			return err
		}
		p.line("%s %s;", typeName, instName)
	}

	for _, entry := range in.Sync.Entries() {
		name, err := nc.wire(entry.Wire)
		if err != nil {
			return err
		}
		if entry.Type != netlist.STn {
			p.line("bool %s = false;", edgeFlagName("posedge", name, entry.Wire, entry.Bit))
		}
		if entry.Type != netlist.STp {
			p.line("bool %s = false;", edgeFlagName("negedge", name, entry.Wire, entry.Bit))
		}
	}

	p.blank()
	p.line("void eval() override;")
	p.line("bool commit() override;")
	p.closeBlock(";")
	p.blank()
	return nil
}

// emitAttrComments reproduces a wire's notable attributes as preceding
// comment lines (spec.md section 4.G: "Declarations emit preceding
// comment lines reproducing attributes").
func emitAttrComments(p *printer, w *netlist.Wire) {
	var attrs []string
	if w.Keep {
		attrs = append(attrs, "keep")
	}
	if w.Init != nil {
		attrs = append(attrs, fmt.Sprintf("init=%s", w.Init.String()))
	}
	switch w.Port {
	case netlist.PortInput:
		attrs = append(attrs, "input")
	case netlist.PortOutput:
		attrs = append(attrs, "output")
	case netlist.PortInOut:
		attrs = append(attrs, "inout")
	}
	if len(attrs) > 0 {
		p.line("// %s", strings.Join(attrs, ", "))
	}
}

// emitMemInitEntry renders one $meminit cell's contribution as a
// memory<W>::init<Words> brace-initializer, matching the original cxxrtl
// backend's dump_memory: neither the address nor the word count carries
// an integer-literal suffix, and each word is rendered through
// constLiteral.
func emitMemInitEntry(p *printer, memWidth int, entry netlist.MemInitEntry) {
	p.openBlock("memory<%d>::init<%d> { %#x, {", memWidth, entry.Words, entry.Addr)
	for n := 0; n < entry.Words; n++ {
		lo, hi := n*entry.Width, (n+1)*entry.Width
		p.line("%s,", constLiteral(entry.Data[lo:hi]))
	}
	p.closeBlock("},")
}
