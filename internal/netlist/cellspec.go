package netlist

// cellOutputPorts is the static catalog of output ports per built-in
// ($-prefixed) cell type, used by Cell.IsOutput and by the flow-graph
// builder to classify connections without a back-reference to the
// instantiated module (spec.md section 3, "three disjoint families").
var cellOutputPorts = map[string]map[string]bool{
	// Elidable combinational, unary: single Y output.
	"$not":         {"Y": true},
	"$pos":         {"Y": true},
	"$neg":         {"Y": true},
	"$logic_not":   {"Y": true},
	"$reduce_and":  {"Y": true},
	"$reduce_or":   {"Y": true},
	"$reduce_xor":  {"Y": true},
	"$reduce_xnor": {"Y": true},
	"$reduce_bool": {"Y": true},

	// Elidable combinational, binary.
	"$and":       {"Y": true},
	"$or":        {"Y": true},
	"$xor":       {"Y": true},
	"$xnor":      {"Y": true},
	"$logic_and": {"Y": true},
	"$logic_or":  {"Y": true},
	"$shl":       {"Y": true},
	"$shr":       {"Y": true},
	"$sshl":      {"Y": true},
	"$sshr":      {"Y": true},
	"$shift":     {"Y": true},
	"$shiftx":    {"Y": true},
	"$eq":        {"Y": true},
	"$ne":        {"Y": true},
	"$lt":        {"Y": true},
	"$le":        {"Y": true},
	"$gt":        {"Y": true},
	"$ge":        {"Y": true},
	"$add":       {"Y": true},
	"$sub":       {"Y": true},
	"$mul":       {"Y": true},
	"$div":       {"Y": true},
	"$mod":       {"Y": true},

	// Mux family, concat, slice.
	"$mux":    {"Y": true},
	"$pmux":   {"Y": true},
	"$concat": {"Y": true},
	"$slice":  {"Y": true},

	// Sequential: flip-flops, their Q output is edge-deferred (no flow
	// def, per spec.md section 4.B) but it is still the output port for
	// elision-eligibility lookups elsewhere.
	"$dff":      {"Q": true},
	"$dffe":     {"Q": true},
	"$adff":     {"Q": true},
	"$dffsr":    {"Q": true},
	"$dlatch":   {"Q": true},
	"$dlatchsr": {"Q": true},
	"$sr":       {"Q": true},

	// Memory ports.
	"$memrd":   {"DATA": true},
	"$memwr":   {},
	"$meminit": {},
}

// elidableCellTypes is the subset of cellOutputPorts whose Y output
// participates in wire elision (spec.md section 3: "elidable-cell Y
// output"). Mux/concat/slice and the unary/binary operators are all
// elidable; $pmux is not (see below), nor are flip-flops and memory ports
// (their Q/DATA updates are edge-deferred).
var elidableCellTypes = map[string]bool{
	"$not": true, "$pos": true, "$neg": true, "$logic_not": true,
	"$reduce_and": true, "$reduce_or": true, "$reduce_xor": true,
	"$reduce_xnor": true, "$reduce_bool": true,
	"$and": true, "$or": true, "$xor": true, "$xnor": true,
	"$logic_and": true, "$logic_or": true,
	"$shl": true, "$shr": true, "$sshl": true, "$sshr": true,
	"$shift": true, "$shiftx": true,
	"$eq": true, "$ne": true, "$lt": true, "$le": true, "$gt": true, "$ge": true,
	"$add": true, "$sub": true, "$mul": true, "$div": true, "$mod": true,
	// $pmux is deliberately excluded: its eval-body rendering is always
	// an if/else-if chain over S (spec.md section 4.G), never a single
	// inlineable expression, so it must never be flow-elidable.
	"$mux": true, "$concat": true, "$slice": true,
}

// sequentialCellTypes covers flip-flops and memory ports (spec.md section
// 3, "Sequential and stateful").
var sequentialCellTypes = map[string]bool{
	"$dff": true, "$dffe": true, "$adff": true, "$dffsr": true,
	"$dlatch": true, "$dlatchsr": true, "$sr": true,
	"$memrd": true, "$memwr": true, "$meminit": true,
}

// combinationalCellTypes is elidableCellTypes plus $pmux: $pmux's Y is
// combinational and contributes an ordinary flow def every evaluation
// (unlike a flip-flop's edge-deferred Q), but -- unlike the rest of the
// elidable family -- it is never rendered as a single inlineable
// expression (spec.md section 4.G renders it as an if/else-if chain), so
// it is kept out of elidableCellTypes while still classifying as
// CellElidable for def-recording purposes.
var combinationalCellTypes = func() map[string]bool {
	m := map[string]bool{"$pmux": true}
	for t := range elidableCellTypes {
		m[t] = true
	}
	return m
}()

// IsElidableType reports whether typ names a built-in cell type whose Y
// output can be rendered as a single inlineable expression at a use
// site.
func IsElidableType(typ string) bool { return elidableCellTypes[typ] }

// IsSequentialType reports whether typ names a built-in sequential or
// memory-port cell.
func IsSequentialType(typ string) bool { return sequentialCellTypes[typ] }

// IsBuiltinType reports whether typ is a known $-prefixed built-in cell
// type (elidable, pmux, sequential, or the packed $mem cell). Anything
// else whose name does
// not begin with '$' is a user (module) instance; anything $-prefixed
// and absent from this catalog is an unsupported construct (spec.md
// section 7).
func IsBuiltinType(typ string) bool {
	return len(typ) > 0 && typ[0] == '$' && (combinationalCellTypes[typ] || sequentialCellTypes[typ] || typ == "$mem")
}

// ClassifyCellKind returns the CellKind for a built-in type name typ, or
// CellUser if typ does not begin with '$'.
func ClassifyCellKind(typ string) CellKind {
	if len(typ) == 0 || typ[0] != '$' {
		return CellUser
	}
	if combinationalCellTypes[typ] {
		return CellElidable
	}
	return CellSequential
}
