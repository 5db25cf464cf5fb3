// Package mangle implements the injective, stable mapping from netlist
// identifiers to target-language-safe identifiers (spec.md section 4.A).
// The algorithm is fully specified there; this package has no behavior
// beyond what it describes and uses only the standard library plus
// github.com/pkg/errors for error values.
package mangle

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Name mangles a raw netlist identifier. Rules, applied in order:
//  1. A prefix "p_" for a public ('\'-led) identifier, "i_" for an
//     internal ('$'-led) one; any other leading byte is a programmer
//     error (spec.md section 7, "Malformed identifier").
//  2. For each remaining byte: alphanumerics pass through; '_' becomes
//     "__"; any other byte c becomes "_" + two lowercase hex digits of c
//     + "_".
func Name(raw string) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("mangle: empty identifier")
	}
	var prefix string
	switch raw[0] {
	case '\\':
		prefix = "p_"
	case '$':
		prefix = "i_"
	default:
		return "", errors.Errorf("mangle: identifier %q has invalid leading character %q", raw, raw[0])
	}

	var sb strings.Builder
	sb.WriteString(prefix)
	for i := 1; i < len(raw); i++ {
		c := raw[i]
		switch {
		case isAlnum(c):
			sb.WriteByte(c)
		case c == '_':
			sb.WriteString("__")
		default:
			fmt.Fprintf(&sb, "_%02x_", c)
		}
	}
	return sb.String(), nil
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Memory prepends the "memory_" namespace prefix for memory declarations.
func Memory(raw string) (string, error) {
	name, err := Name(raw)
	if err != nil {
		return "", err
	}
	return "memory_" + name, nil
}

// Cell prepends the "cell_" namespace prefix for cell-instance
// declarations.
func Cell(raw string) (string, error) {
	name, err := Name(raw)
	if err != nil {
		return "", err
	}
	return "cell_" + name, nil
}
