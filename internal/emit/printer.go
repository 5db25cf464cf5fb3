// Package emit is the deterministic code emitter (spec.md section 4.G):
// it walks a module's schedule and materializes simulator source text
// against the runtime library interface spec.md section 6 describes.
//
// The printer buffers all output in memory and is only ever flushed to
// the caller's writers once generation succeeds end to end, matching
// spec.md section 7's "no partial output: emit to buffer, flush on
// success" requirement. This mirrors the indent-tracking, name-table
// printer idiom the teacher uses in its own MLIR emitter, generalized
// from SSA values to wires, cells, and memories.
package emit

import (
	"bytes"
	"fmt"
)

// printer accumulates indented source text.
type printer struct {
	buf    bytes.Buffer
	indent int
}

func newPrinter() *printer { return &printer{} }

func (p *printer) indentStr() string {
	return stringsRepeat("  ", p.indent)
}

func stringsRepeat(s string, n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

// line writes one fully-indented line terminated by a newline.
func (p *printer) line(format string, args ...any) {
	p.buf.WriteString(p.indentStr())
	fmt.Fprintf(&p.buf, format, args...)
	p.buf.WriteByte('\n')
}

// raw writes text with no indentation or trailing newline management.
func (p *printer) raw(s string) { p.buf.WriteString(s) }

func (p *printer) blank() { p.buf.WriteByte('\n') }

func (p *printer) openBlock(format string, args ...any) {
	p.line(format, args...)
	p.indent++
}

func (p *printer) closeBlock(suffix string) {
	p.indent--
	p.line("}" + suffix)
}

// elseBlock closes the current block and reopens it as an "} else {"
// continuation, for if/else-if/else chains built one arm at a time.
func (p *printer) elseBlock() {
	p.indent--
	p.line("} else {")
	p.indent++
}

// elseIfBlock closes the current block and reopens it as an
// "} else if (cond) {" continuation.
func (p *printer) elseIfBlock(format string, args ...any) {
	p.indent--
	p.line("} else if ("+format+") {", args...)
	p.indent++
}

func (p *printer) bytes() []byte { return p.buf.Bytes() }
