package syncreg

import (
	"testing"

	"gatesim/internal/netlist"
)

func bitSig(w *netlist.Wire, bit int) netlist.Signal {
	return netlist.Signal{{Wire: w, Offset: bit, Width: 1}}
}

func TestRequestRejectsLevelKinds(t *testing.T) {
	r := New(netlist.NewSigMap())
	clk := &netlist.Wire{Name: `\clk`, Width: 1}
	if err := r.Request(bitSig(clk, 0), netlist.ST1); err == nil {
		t.Fatalf("Request with a level kind should be rejected")
	}
}

func TestRequestRejectsMultiBitSignal(t *testing.T) {
	r := New(netlist.NewSigMap())
	bus := &netlist.Wire{Name: `\bus`, Width: 4}
	sig := netlist.Signal{{Wire: bus, Offset: 0, Width: 4}}
	if err := r.Request(sig, netlist.STp); err == nil {
		t.Fatalf("Request with a multi-bit signal should be rejected")
	}
}

func TestRequestSameKindKeepsType(t *testing.T) {
	r := New(netlist.NewSigMap())
	clk := &netlist.Wire{Name: `\clk`, Width: 1}
	if err := r.Request(bitSig(clk, 0), netlist.STp); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := r.Request(bitSig(clk, 0), netlist.STp); err != nil {
		t.Fatalf("Request: %v", err)
	}
	typ, ok := r.TypeOf(clk, 0)
	if !ok || typ != netlist.STp {
		t.Fatalf("TypeOf = (%v, %v), want (STp, true)", typ, ok)
	}
}

func TestRequestConflictingKindsConsolidateToEitherEdge(t *testing.T) {
	r := New(netlist.NewSigMap())
	clk := &netlist.Wire{Name: `\clk`, Width: 1}
	if err := r.Request(bitSig(clk, 0), netlist.STp); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := r.Request(bitSig(clk, 0), netlist.STn); err != nil {
		t.Fatalf("Request: %v", err)
	}
	typ, ok := r.TypeOf(clk, 0)
	if !ok || typ != netlist.STe {
		t.Fatalf("TypeOf = (%v, %v), want (STe, true)", typ, ok)
	}
	if !r.IsSyncWire(clk) {
		t.Fatalf("clk should be a sync wire after any edge request")
	}
}

func TestEntriesSortedByWireThenBit(t *testing.T) {
	r := New(netlist.NewSigMap())
	a := &netlist.Wire{Name: `\b_clk`, Width: 2}
	b := &netlist.Wire{Name: `\a_clk`, Width: 1}
	if err := r.Request(bitSig(a, 1), netlist.STp); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := r.Request(bitSig(a, 0), netlist.STn); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := r.Request(bitSig(b, 0), netlist.STp); err != nil {
		t.Fatalf("Request: %v", err)
	}
	entries := r.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if prev.Wire.Name > cur.Wire.Name {
			t.Fatalf("entries not sorted by wire name: %q before %q", prev.Wire.Name, cur.Wire.Name)
		}
		if prev.Wire.Name == cur.Wire.Name && prev.Bit > cur.Bit {
			t.Fatalf("entries for wire %q not sorted by bit", prev.Wire.Name)
		}
	}
}

func TestWireBitsSortedAscending(t *testing.T) {
	r := New(netlist.NewSigMap())
	w := &netlist.Wire{Name: `\clk`, Width: 3}
	if err := r.Request(bitSig(w, 2), netlist.STp); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := r.Request(bitSig(w, 0), netlist.STp); err != nil {
		t.Fatalf("Request: %v", err)
	}
	bits := r.WireBits(w)
	if len(bits) != 2 || bits[0] != 0 || bits[1] != 2 {
		t.Fatalf("WireBits = %v, want [0 2]", bits)
	}
}

func TestIsSyncWireFalseWithoutRequests(t *testing.T) {
	r := New(netlist.NewSigMap())
	w := &netlist.Wire{Name: `\w`, Width: 1}
	if r.IsSyncWire(w) {
		t.Fatalf("unregistered wire must not be a sync wire")
	}
}
