package netlist

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// This file implements the JSON encoding of a Design that cmd/gatesim
// reads from its input file or stdin. The netlist container itself is a
// consumed external interface (spec.md section 6); nothing upstream of
// this package constructs one from HDL source. A flat, name-addressed
// JSON document -- grounded in shape on
// other_examples/jfstepha-intel-SART__netlist.go's tagged, string-keyed
// Node/Netlist records, decoded the way Consensys-go-corset's binfile
// package turns a JSON byte stream into a schema -- gives the CLI a
// documented, minimal way to obtain one without reinventing a synthesis
// front-end.

// docDesign is the wire-format shape of a Design: modules keyed by name,
// with all cross-references (wire, memory, module) spelled out as plain
// strings and resolved into pointers by LoadDesign.
type docDesign struct {
	Modules map[string]docModule `json:"modules"`
}

type docModule struct {
	Attrs     map[string]string  `json:"attrs,omitempty"`
	Blackbox  bool               `json:"blackbox,omitempty"`
	Selected  bool               `json:"selected"`
	PortOrder []string           `json:"port_order,omitempty"`
	Wires     map[string]docWire `json:"wires"`
	Memories  map[string]docMem  `json:"memories,omitempty"`
	Cells       map[string]docCell `json:"cells,omitempty"`
	Processes   []docProcess       `json:"processes,omitempty"`
	Connections []docAction        `json:"connections,omitempty"`
}

type docWire struct {
	Width  int    `json:"width"`
	Port   string `json:"port,omitempty"` // "", "input", "output", "inout"
	PortID int    `json:"port_id,omitempty"`
	Keep   bool   `json:"keep,omitempty"`
	Init   string `json:"init,omitempty"` // MSB-first bit string, e.g. "1x0z"; empty means unset
}

type docMem struct {
	Width       int `json:"width"`
	Size        int `json:"size"`
	StartOffset int `json:"start_offset,omitempty"`
}

type docChunk struct {
	Wire   string `json:"wire,omitempty"`  // wire name; empty means a constant chunk
	Const  string `json:"const,omitempty"` // MSB-first bit string, present iff Wire == ""
	Offset int    `json:"offset,omitempty"`
	Width  int    `json:"width"`
}

type docSignal []docChunk

type docCell struct {
	Type   string                `json:"type"`
	Ports  map[string]docSignal  `json:"ports,omitempty"`
	Params map[string]int64      `json:"params,omitempty"`
	Memory string                `json:"memory,omitempty"`
}

type docAction struct {
	LHS docSignal `json:"lhs"`
	RHS docSignal `json:"rhs"`
}

type docSwitch struct {
	Selector docSignal       `json:"selector"`
	Cases    []docSwitchCase `json:"cases"`
}

type docSwitchCase struct {
	Patterns []docSignal       `json:"patterns,omitempty"`
	Body     docCaseBody       `json:"body"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

type docCaseBody struct {
	Actions  []docAction `json:"actions,omitempty"`
	Switches []docSwitch `json:"switches,omitempty"`
}

type docSync struct {
	Type    string      `json:"type"` // "0","1","a","p","n","e","i","g"
	Signal  docSignal   `json:"signal"`
	Actions []docAction `json:"actions,omitempty"`
}

type docProcess struct {
	Name  string      `json:"name,omitempty"`
	Root  docCaseBody `json:"root"`
	Syncs []docSync   `json:"syncs,omitempty"`
}

// LoadDesign decodes a JSON-encoded Design document from r.
func LoadDesign(r io.Reader) (*Design, error) {
	var doc docDesign
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode netlist JSON")
	}
	return buildDesign(doc)
}

func buildDesign(doc docDesign) (*Design, error) {
	d := NewDesign()
	for name, dm := range doc.Modules {
		mod := NewModule(name)
		mod.Attrs = dm.Attrs
		if mod.Attrs == nil {
			mod.Attrs = map[string]string{}
		}
		mod.Blackbox = dm.Blackbox
		mod.Selected = dm.Selected
		mod.PortOrder = dm.PortOrder
		d.Modules[name] = mod
	}

	for name, dm := range doc.Modules {
		mod := d.Modules[name]
		for wname, dw := range dm.Wires {
			w := &Wire{Name: wname, Width: dw.Width, PortID: dw.PortID, Keep: dw.Keep}
			switch dw.Port {
			case "input":
				w.Port = PortInput
			case "output":
				w.Port = PortOutput
			case "inout":
				w.Port = PortInOut
			}
			if dw.Init != "" {
				w.Init = parseBits(dw.Init)
			}
			if err := mod.AddWire(w); err != nil {
				return nil, errors.Wrapf(err, "module %q", name)
			}
		}
		for mname, dmem := range dm.Memories {
			mod.Memories[mname] = &Memory{Name: mname, Width: dmem.Width, Size: dmem.Size, StartOffset: dmem.StartOffset}
		}
	}

	for name, dm := range doc.Modules {
		mod := d.Modules[name]
		conns, err := resolveActions(mod, dm.Connections)
		if err != nil {
			return nil, errors.Wrapf(err, "module %q connections", name)
		}
		mod.Connections = conns
		for cname, dc := range dm.Cells {
			c := &Cell{
				Name:   cname,
				Type:   dc.Type,
				Kind:   ClassifyCellKind(dc.Type),
				Ports:  map[string]Signal{},
				Params: dc.Params,
			}
			if c.Params == nil {
				c.Params = map[string]int64{}
			}
			for pname, dsig := range dc.Ports {
				sig, err := resolveSignal(mod, dsig)
				if err != nil {
					return nil, errors.Wrapf(err, "module %q cell %q port %q", name, cname, pname)
				}
				c.Ports[pname] = sig
			}
			if dc.Memory != "" {
				mem, ok := mod.Memories[dc.Memory]
				if !ok {
					return nil, errors.Errorf("module %q cell %q: unknown memory %q", name, cname, dc.Memory)
				}
				c.Memory = mem
			}
			mod.Cells[cname] = c
		}
		for _, dp := range dm.Processes {
			p := &Process{Name: dp.Name, Root: &Case{}}
			body, err := resolveCaseBody(mod, dp.Root)
			if err != nil {
				return nil, errors.Wrapf(err, "module %q process", name)
			}
			p.Root = body
			for _, ds := range dp.Syncs {
				sig, err := resolveSignal(mod, ds.Signal)
				if err != nil {
					return nil, errors.Wrapf(err, "module %q sync rule", name)
				}
				actions, err := resolveActions(mod, ds.Actions)
				if err != nil {
					return nil, errors.Wrapf(err, "module %q sync rule", name)
				}
				p.Syncs = append(p.Syncs, &Sync{Type: parseSyncType(ds.Type), Signal: sig, Actions: actions})
			}
			mod.Processes = append(mod.Processes, p)
		}
	}

	return d, nil
}

func resolveSignal(mod *Module, dsig docSignal) (Signal, error) {
	sig := make(Signal, 0, len(dsig))
	for _, dc := range dsig {
		if dc.Wire == "" {
			sig = append(sig, Chunk{Const: parseBits(dc.Const), Offset: dc.Offset, Width: dc.Width})
			continue
		}
		w, ok := mod.Wires[dc.Wire]
		if !ok {
			return nil, errors.Errorf("unknown wire %q", dc.Wire)
		}
		sig = append(sig, Chunk{Wire: w, Offset: dc.Offset, Width: dc.Width})
	}
	return sig, nil
}

func resolveActions(mod *Module, das []docAction) ([]Action, error) {
	out := make([]Action, 0, len(das))
	for _, da := range das {
		lhs, err := resolveSignal(mod, da.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := resolveSignal(mod, da.RHS)
		if err != nil {
			return nil, err
		}
		out = append(out, Action{LHS: lhs, RHS: rhs})
	}
	return out, nil
}

func resolveCaseBody(mod *Module, db docCaseBody) (*Case, error) {
	c := &Case{}
	actions, err := resolveActions(mod, db.Actions)
	if err != nil {
		return nil, err
	}
	c.Actions = actions
	for _, dsw := range db.Switches {
		sw, err := resolveSwitch(mod, dsw)
		if err != nil {
			return nil, err
		}
		c.Switches = append(c.Switches, sw)
	}
	return c, nil
}

func resolveSwitch(mod *Module, dsw docSwitch) (*Switch, error) {
	sel, err := resolveSignal(mod, dsw.Selector)
	if err != nil {
		return nil, err
	}
	sw := &Switch{Selector: sel}
	for _, dc := range dsw.Cases {
		body, err := resolveCaseBody(mod, dc.Body)
		if err != nil {
			return nil, err
		}
		var patterns []Signal
		for _, dp := range dc.Patterns {
			pat, err := resolveSignal(mod, dp)
			if err != nil {
				return nil, err
			}
			patterns = append(patterns, pat)
		}
		sw.Cases = append(sw.Cases, &SwitchCase{Patterns: patterns, Body: body, Attrs: dc.Attrs})
	}
	return sw, nil
}

func parseSyncType(s string) SyncType {
	switch s {
	case "1":
		return ST1
	case "a":
		return STa
	case "p":
		return STp
	case "n":
		return STn
	case "e":
		return STe
	case "i":
		return STi
	case "g":
		return STg
	default:
		return ST0
	}
}

// parseBits parses a most-significant-bit-first bit string (the inverse
// of BitVector.String) into a BitVector.
func parseBits(s string) BitVector {
	bv := make(BitVector, len(s))
	for i, ch := range s {
		bv[len(s)-1-i] = Bit(ch)
	}
	return bv
}
