// Package diag is the compiler backend's diagnostic sink: every pipeline
// stage reports into one Reporter, which streams each diagnostic to its
// writer immediately and remembers whether any errors occurred so the
// driver can fail fast after the stage returns (spec.md section 7,
// "accumulate into a reporter, fail fast on first error").
//
// Unlike the originating frontend's diag.Reporter, which positions
// diagnostics at a token.Pos into Go source, this backend's inputs are
// netlist identifiers: a Pos here is a dotted module/wire/cell path
// (e.g. "top.cell.sub_wire"), not a source location.
package diag

import (
	"encoding/json"
	"fmt"
	"io"
)

// Pos identifies where in the netlist a diagnostic applies.
type Pos string

// NoPos is the zero Pos, used for design-wide diagnostics with no single
// netlist location.
const NoPos Pos = ""

type severity string

const (
	severityError   severity = "error"
	severityWarning severity = "warning"
)

// Reporter accumulates and streams diagnostics for one compilation run.
type Reporter struct {
	w         io.Writer
	format    string // "text" or "json"
	errCount  int
	warnCount int
}

// NewReporter returns a Reporter that streams diagnostics to w as they
// are reported, formatted as "text" (default) or "json".
func NewReporter(w io.Writer, format string) *Reporter {
	if format == "" {
		format = "text"
	}
	return &Reporter{w: w, format: format}
}

// Error reports a positioned error-severity diagnostic.
func (r *Reporter) Error(pos Pos, msg string) {
	r.errCount++
	r.emit(severityError, pos, msg)
}

// Errorf reports an error-severity diagnostic with no specific netlist
// position, formatted like fmt.Sprintf.
func (r *Reporter) Errorf(format string, args ...any) {
	r.Error(NoPos, fmt.Sprintf(format, args...))
}

// Warning reports a positioned warning-severity diagnostic (e.g. the
// design-level feedback-arc warning, spec.md section 7).
func (r *Reporter) Warning(pos Pos, msg string) {
	r.warnCount++
	r.emit(severityWarning, pos, msg)
}

// Warningf reports a warning with no specific netlist position.
func (r *Reporter) Warningf(format string, args ...any) {
	r.Warning(NoPos, fmt.Sprintf(format, args...))
}

// HasErrors reports whether any error-severity diagnostic has been
// reported so far.
func (r *Reporter) HasErrors() bool { return r.errCount > 0 }

// ErrorCount and WarningCount report how many diagnostics of each
// severity have been reported, for summary lines.
func (r *Reporter) ErrorCount() int   { return r.errCount }
func (r *Reporter) WarningCount() int { return r.warnCount }

func (r *Reporter) emit(sev severity, pos Pos, msg string) {
	if r.w == nil {
		return
	}
	switch r.format {
	case "json":
		enc := json.NewEncoder(r.w)
		_ = enc.Encode(struct {
			Severity string `json:"severity"`
			Pos      string `json:"pos,omitempty"`
			Message  string `json:"message"`
		}{string(sev), string(pos), msg})
	default:
		if pos != NoPos {
			fmt.Fprintf(r.w, "%s: %s: %s\n", sev, pos, msg)
		} else {
			fmt.Fprintf(r.w, "%s: %s\n", sev, msg)
		}
	}
}
