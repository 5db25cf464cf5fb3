package netlist

import "github.com/pkg/errors"

// SigMap canonicalizes signal chunks to a representative form per module
// (spec.md section 3, "Sig-map"). Canonicalization here is structural
// normalization: adjacent chunks on the same wire are merged and
// zero-width chunks are dropped, giving every caller a stable shape to
// compare and hash against.
type SigMap struct{}

// NewSigMap returns a ready-to-use sig-map.
func NewSigMap() *SigMap { return &SigMap{} }

// Canon returns sig in canonical form: zero-width chunks removed and
// adjacent same-wire, contiguous chunks merged.
func (m *SigMap) Canon(sig Signal) Signal {
	var out Signal
	for _, c := range sig {
		if c.Width == 0 {
			continue
		}
		if n := len(out); n > 0 {
			prev := out[n-1]
			if !prev.IsConst() && !c.IsConst() && prev.Wire == c.Wire &&
				prev.Offset+prev.Width == c.Offset {
				out[n-1].Width += c.Width
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// SingleBit canonicalizes sig and asserts it denotes exactly one bit of a
// known wire, as required by the edge-signal registrar (spec.md section
// 4.D step 1) and invariant 5 ("Every sync-type entry's signal is a single
// bit of a known wire"). It returns the wire and the bit offset within it.
func (m *SigMap) SingleBit(sig Signal) (*Wire, int, error) {
	c := m.Canon(sig)
	if len(c) != 1 || c[0].IsConst() || c[0].Width != 1 {
		return nil, 0, errors.Errorf("signal %v is not a single wire bit", sig)
	}
	return c[0].Wire, c[0].Offset, nil
}
