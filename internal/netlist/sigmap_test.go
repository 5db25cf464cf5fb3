package netlist

import "testing"

func TestCanonMergesAdjacentContiguousChunks(t *testing.T) {
	sm := NewSigMap()
	w := &Wire{Name: `\a`, Width: 4}
	sig := Signal{{Wire: w, Offset: 0, Width: 2}, {Wire: w, Offset: 2, Width: 2}}
	got := sm.Canon(sig)
	if len(got) != 1 || got[0].Offset != 0 || got[0].Width != 4 {
		t.Fatalf("Canon should merge adjacent chunks into one: %v", got)
	}
}

func TestCanonDropsZeroWidthChunks(t *testing.T) {
	sm := NewSigMap()
	w := &Wire{Name: `\a`, Width: 4}
	sig := Signal{{Wire: w, Offset: 0, Width: 0}, {Wire: w, Offset: 0, Width: 4}}
	got := sm.Canon(sig)
	if len(got) != 1 || got[0].Width != 4 {
		t.Fatalf("Canon should drop zero-width chunks: %v", got)
	}
}

func TestCanonDoesNotMergeNonContiguousChunks(t *testing.T) {
	sm := NewSigMap()
	w := &Wire{Name: `\a`, Width: 4}
	sig := Signal{{Wire: w, Offset: 0, Width: 1}, {Wire: w, Offset: 2, Width: 1}}
	got := sm.Canon(sig)
	if len(got) != 2 {
		t.Fatalf("Canon should not merge non-adjacent chunks: %v", got)
	}
}

func TestCanonDoesNotMergeDifferentWires(t *testing.T) {
	sm := NewSigMap()
	w1 := &Wire{Name: `\a`, Width: 2}
	w2 := &Wire{Name: `\b`, Width: 2}
	sig := Signal{{Wire: w1, Offset: 0, Width: 2}, {Wire: w2, Offset: 0, Width: 2}}
	got := sm.Canon(sig)
	if len(got) != 2 {
		t.Fatalf("Canon should not merge chunks on different wires: %v", got)
	}
}

func TestSingleBitAcceptsOneBitOfAWire(t *testing.T) {
	sm := NewSigMap()
	w := &Wire{Name: `\clk`, Width: 1}
	wire, bit, err := sm.SingleBit(Signal{{Wire: w, Offset: 0, Width: 1}})
	if err != nil {
		t.Fatalf("SingleBit: %v", err)
	}
	if wire != w || bit != 0 {
		t.Fatalf("SingleBit = (%v, %d), want (%v, 0)", wire, bit, w)
	}
}

func TestSingleBitRejectsMultiBit(t *testing.T) {
	sm := NewSigMap()
	w := &Wire{Name: `\bus`, Width: 4}
	if _, _, err := sm.SingleBit(Signal{{Wire: w, Offset: 0, Width: 4}}); err == nil {
		t.Fatalf("SingleBit should reject a multi-bit signal")
	}
}

func TestSingleBitRejectsConst(t *testing.T) {
	sm := NewSigMap()
	if _, _, err := sm.SingleBit(Signal{{Const: NewBitVector(1, 1)}}); err == nil {
		t.Fatalf("SingleBit should reject a constant signal")
	}
}
