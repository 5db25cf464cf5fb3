// Package syncreg implements the edge-signal registrar (spec.md section
// 4.D): it consolidates posedge/negedge/either-edge requests from FF
// clocks, memory-port clocks, and process sync rules into a single
// per-wire-bit sync-type map.
package syncreg

import (
	"sort"

	"github.com/pkg/errors"

	"gatesim/internal/netlist"
)

// bitKey addresses a single bit of a wire.
type bitKey struct {
	Wire *netlist.Wire
	Bit  int
}

// Registrar accumulates edge-signal requests for one module.
type Registrar struct {
	sigMap *netlist.SigMap
	types  map[bitKey]netlist.SyncType
	// SyncWires is the set of wires (not bits) that have at least one
	// registered edge request, per spec.md step 3.
	SyncWires map[*netlist.Wire]bool
}

// New returns a registrar bound to a module's sig-map.
func New(sigMap *netlist.SigMap) *Registrar {
	return &Registrar{
		sigMap:    sigMap,
		types:     map[bitKey]netlist.SyncType{},
		SyncWires: map[*netlist.Wire]bool{},
	}
}

// Request registers one (signal, kind) edge request. The signal is
// normalized through the sig-map and asserted to be a single wire bit
// (spec.md section 4.D step 1, and invariant 5).
func (r *Registrar) Request(sig netlist.Signal, kind netlist.SyncType) error {
	if !kind.IsEdge() {
		return errors.Errorf("syncreg: kind %v is not an edge kind", kind)
	}
	w, bit, err := r.sigMap.SingleBit(sig)
	if err != nil {
		return errors.Wrap(err, "syncreg: edge request")
	}
	key := bitKey{Wire: w, Bit: bit}
	existing, ok := r.types[key]
	switch {
	case !ok:
		r.types[key] = kind
	case existing == kind:
		// keep
	default:
		r.types[key] = netlist.STe
	}
	r.SyncWires[w] = true
	return nil
}

// BitEntry is one resolved sync-type-map entry, for deterministic
// iteration by callers (the emitter, tests).
type BitEntry struct {
	Wire *netlist.Wire
	Bit  int
	Type netlist.SyncType
}

// Entries returns every registered (wire, bit, type) triple sorted by
// wire name then bit index, for deterministic emission.
func (r *Registrar) Entries() []BitEntry {
	out := make([]BitEntry, 0, len(r.types))
	for k, t := range r.types {
		out = append(out, BitEntry{Wire: k.Wire, Bit: k.Bit, Type: t})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Wire.Name != out[j].Wire.Name {
			return out[i].Wire.Name < out[j].Wire.Name
		}
		return out[i].Bit < out[j].Bit
	})
	return out
}

// TypeOf returns the consolidated sync type for one wire bit, and
// whether any edge request was ever registered for it.
func (r *Registrar) TypeOf(w *netlist.Wire, bit int) (netlist.SyncType, bool) {
	t, ok := r.types[bitKey{Wire: w, Bit: bit}]
	return t, ok
}

// IsSyncWire reports whether w has at least one registered edge request
// on any bit, satisfying the interface internal/optimize consumes.
func (r *Registrar) IsSyncWire(w *netlist.Wire) bool { return r.SyncWires[w] }

// WireBits returns every registered bit index of w, sorted ascending.
func (r *Registrar) WireBits(w *netlist.Wire) []int {
	var bits []int
	for k := range r.types {
		if k.Wire == w {
			bits = append(bits, k.Bit)
		}
	}
	sort.Ints(bits)
	return bits
}
