// Package pipeline is the backend driver (spec.md section 4.H): it runs
// the mandatory netlist pre-passes, then for every selected module in
// design-level topological order builds the flow graph (B), registers
// edge signals (D), plans memory ports (F), schedules nodes (C), analyzes
// optimization opportunities (E), and hands everything to the emitter
// (G). Grounded on youweizhuo-mygo's cmd/mygo/main.go runCompile/
// runDefaultPasses orchestration shape, adapted from that teacher's
// flexible ssa->ir->mlir->verilog switch to this backend's fixed
// B->D->F->C->E->G sequence run once per module.
package pipeline

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gatesim/internal/diag"
	"gatesim/internal/emit"
	"gatesim/internal/flow"
	"gatesim/internal/memplan"
	"gatesim/internal/netlist"
	"gatesim/internal/optimize"
	"gatesim/internal/schedule"
	"gatesim/internal/syncreg"
)

// Options configures one pipeline run (spec.md section 4.H "Optimization
// levels", section 6 "CLI").
type Options struct {
	OptLevel  int // 0-5, default 5
	Namespace string
	Header    bool
	// HeaderPath is the #include argument the implementation file uses
	// to reach the split header (spec.md section 6); ignored unless
	// Header is set. The CLI derives it from the output filename.
	HeaderPath string
	Log        *logrus.Logger
}

// edgeTriggeredCellTypes are the flip-flop types with a CLK port whose
// clock must be registered as a posedge or negedge request (dlatch family
// is level-sensitive on EN and excluded).
var edgeTriggeredCellTypes = map[string]bool{
	"$dff": true, "$dffe": true, "$adff": true, "$dffsr": true,
}

// Run executes the full pipeline over d and returns the emitter's
// buffered result. Diagnostics (warnings, in particular the feedback-arc
// design-level warning spec.md section 7 mandates) are reported into
// reporter. reporter may be nil: warnings are then discarded, and an
// unsupported construct makes Run return an error.
func Run(d *netlist.Design, opts Options, reporter *diag.Reporter) (*emit.Result, error) {
	log := opts.Log
	if log == nil {
		log = logrus.New()
	}
	level := opts.OptLevel
	if level < 0 || level > 5 {
		return nil, errors.Errorf("pipeline: optimization level must be 0-5, got %d", level)
	}

	if err := validateConstructs(d, reporter); err != nil {
		return nil, err
	}

	if err := runPrepasses(d, level, log); err != nil {
		return nil, err
	}

	order, err := d.TopoSort()
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: design-level topological sort")
	}
	log.Debugf("pipeline: %d module(s) in instantiation order", len(order))

	flags := optimize.LevelFlags(level)
	inputs := map[string]*emit.ModuleInput{}
	outputsOf := userOutputsLookup(d)

	for _, mod := range order {
		in, err := analyzeModule(mod, flags, outputsOf, log, reporter)
		if err != nil {
			return nil, errors.Wrapf(err, "module %q", mod.Name)
		}
		inputs[mod.Name] = in
	}

	res, err := emit.Emit(order, inputs, emit.Options{
		Namespace:  opts.Namespace,
		Header:     opts.Header,
		HeaderPath: opts.HeaderPath,
	})
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: emit")
	}
	return res, nil
}

// validateConstructs implements spec.md section 7's "Unsupported
// construct" reporting. Diagnostics are streamed to reporter as they are
// found (spec.md section 7, "accumulate into a reporter, fail fast": the
// driver decides whether to fail, not this function), each offender
// named once with its identifier, and the offending cell or sync rule is
// then dropped from the design so the rest of the module can still be
// scheduled and emitted rather than aborting on the first unsupported
// construct found. Global-clock sync rules and unrecognized internal
// ($-prefixed) cell types are both handled here; a partially-selected
// module cannot be detected because the netlist's selection data is
// whole-module only (netlist.Module.Selected), so that category has no
// check (see DESIGN.md). Returns an error only when reporter is nil,
// since then nothing else would ever learn a construct was rejected.
func validateConstructs(d *netlist.Design, reporter *diag.Reporter) error {
	reported := false
	report := func(pos diag.Pos, msg string) {
		reported = true
		if reporter != nil {
			reporter.Error(pos, msg)
		}
	}

	for _, modName := range d.SortedModuleNames() {
		mod := d.Modules[modName]
		for _, name := range mod.SortedCellNames() {
			c := mod.Cells[name]
			if c.Kind == netlist.CellUser {
				continue
			}
			if len(c.Type) > 0 && c.Type[0] == '$' && !netlist.IsBuiltinType(c.Type) {
				report(diag.Pos(modName+"."+name), "unsupported construct: unrecognized internal cell type "+c.Type)
				delete(mod.Cells, name)
			}
		}
		for _, p := range mod.Processes {
			kept := p.Syncs[:0]
			for _, s := range p.Syncs {
				if s.Type == netlist.STg {
					report(diag.Pos(modName+"."+p.Name), "unsupported construct: globally-clocked sync rule on process "+p.Name)
					continue
				}
				kept = append(kept, s)
			}
			p.Syncs = kept
		}
	}

	if reported && reporter == nil {
		return errors.New("pipeline: design contains one or more unsupported constructs")
	}
	return nil
}

// runPrepasses runs the mandatory netlist pre-passes in the fixed order
// spec.md section 4.H step 1 mandates, re-checking each resolved-away
// construct before moving on. SplitNets/OptClean additionally run only
// at optimization level 5 (step 2).
func runPrepasses(d *netlist.Design, level int, log *logrus.Logger) error {
	if err := d.ProcPrune(); err != nil {
		return errors.Wrap(err, "proc_prune")
	}
	if err := d.ProcClean(); err != nil {
		return errors.Wrap(err, "proc_clean")
	}
	if err := d.ProcInit(); err != nil {
		return errors.Wrap(err, "proc_init")
	}
	if err := d.AssertNoInitRemains(); err != nil {
		return err
	}
	if err := d.MemoryUnpack(); err != nil {
		return errors.Wrap(err, "memory_unpack")
	}
	if err := d.AssertNoPackedMemoryRemains(); err != nil {
		return err
	}
	if err := d.CollectMemInit(); err != nil {
		return errors.Wrap(err, "collect_mem_init")
	}
	if err := d.AssertNoMemInitRemains(); err != nil {
		return err
	}
	for _, modName := range d.SortedModuleNames() {
		d.Modules[modName].ComputeMemoryWritability()
	}

	if optimize.LevelFlags(level).RunSplitnets {
		log.Debug("pipeline: optimization level 5, running splitnets -driver and opt_clean -purge")
		if err := d.SplitNets(); err != nil {
			return errors.Wrap(err, "splitnets")
		}
		if err := d.OptClean(); err != nil {
			return errors.Wrap(err, "opt_clean")
		}
	}
	return nil
}

// userOutputsLookup returns a function mapping a module type name to its
// output port names, for flow.Build's user-cell classification.
func userOutputsLookup(d *netlist.Design) func(string) map[string]bool {
	return func(typeName string) map[string]bool {
		mod, ok := d.Modules[typeName]
		if !ok {
			return nil
		}
		out := map[string]bool{}
		for _, name := range mod.SortedWireNames() {
			w := mod.Wires[name]
			if w.Port == netlist.PortOutput || w.Port == netlist.PortInOut {
				out[w.Name] = true
			}
		}
		return out
	}
}

// analyzeModule runs B->D->F->C->E for one module and bundles the results
// into an emit.ModuleInput.
func analyzeModule(mod *netlist.Module, flags optimize.Flags, outputsOf func(string) map[string]bool, log *logrus.Logger, reporter *diag.Reporter) (*emit.ModuleInput, error) {
	g, err := flow.Build(mod, outputsOf)
	if err != nil {
		return nil, errors.Wrap(err, "flow graph")
	}

	sync, err := registerEdgeSignals(mod, g)
	if err != nil {
		return nil, errors.Wrap(err, "edge-signal registration")
	}

	plan, err := memplan.Build(g, mod.SigMap)
	if err != nil {
		return nil, errors.Wrap(err, "memory-port plan")
	}

	order := schedule.Order(g)

	res := optimize.Analyze(g, order, sync, flags)
	reportFeedbackWires(mod, res, log, reporter)

	return &emit.ModuleInput{
		Module:  mod,
		Graph:   g,
		Order:   order,
		Opt:     res,
		Sync:    sync,
		MemPlan: plan,
	}, nil
}

// registerEdgeSignals implements spec.md section 4.D: consolidate clock
// requests from flip-flops, clocked memory ports, and process sync rules
// into one registrar.
func registerEdgeSignals(mod *netlist.Module, g *flow.Graph) (*syncreg.Registrar, error) {
	reg := syncreg.New(mod.SigMap)

	for _, name := range mod.SortedCellNames() {
		c := mod.Cells[name]
		switch {
		case edgeTriggeredCellTypes[c.Type]:
			clk, ok := c.Ports["CLK"]
			if !ok || len(clk) == 0 {
				continue
			}
			kind := netlist.STn
			if c.Params["CLK_POLARITY"] != 0 {
				kind = netlist.STp
			}
			if err := reg.Request(clk, kind); err != nil {
				return nil, errors.Wrapf(err, "cell %q clock", name)
			}
		case c.Type == "$memrd" || c.Type == "$memwr":
			clk, ok := c.Ports["CLK"]
			if !ok || len(clk) == 0 {
				continue // asynchronous port, no edge request
			}
			kind := netlist.STn
			if c.Params["CLK_POLARITY"] != 0 {
				kind = netlist.STp
			}
			if err := reg.Request(clk, kind); err != nil {
				return nil, errors.Wrapf(err, "cell %q clock", name)
			}
		}
	}

	for _, p := range mod.Processes {
		for _, s := range p.Syncs {
			if !s.Type.IsEdge() {
				// ST0/ST1/STa are level rules rendered directly by
				// internal/emit's syncCond, not registered here; STg
				// never reaches this point because validateConstructs
				// rejects it before runPrepasses runs.
				continue
			}
			if err := reg.Request(s.Signal, s.Type); err != nil {
				return nil, errors.Wrapf(err, "process %q sync rule", p.Name)
			}
		}
	}
	return reg, nil
}

// reportFeedbackWires implements spec.md section 7's "Design-level
// warning": feedback arcs do not fail compilation, but are surfaced with
// the list of affected wires and a note that delta cycles will be
// required.
func reportFeedbackWires(mod *netlist.Module, res *optimize.Result, log *logrus.Logger, reporter *diag.Reporter) {
	if len(res.FeedbackWires) == 0 {
		return
	}
	names := make([]string, 0, len(res.FeedbackWires))
	for w := range res.FeedbackWires {
		names = append(names, w.Name)
	}
	sort.Strings(names)
	for _, n := range names {
		msg := "wire requires a delta cycle (feedback arc): " + n
		log.Warnf("module %q: %s", mod.Name, msg)
		if reporter != nil {
			reporter.Warning(diag.Pos(mod.Name+"."+n), msg)
		}
	}
}
