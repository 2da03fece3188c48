package strata

import (
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

// json is a drop-in replacement for encoding/json with better performance.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Logical keywords recognized in filter documents. Case-sensitive; any other
// key names a column.
const (
	keywordAnd = "AND"
	keywordOr  = "OR"
)

// -----------------------------------------------------------------------------
// Predicate tree
// -----------------------------------------------------------------------------

// Op enumerates leaf predicate operators.
type Op int

// Leaf operators.
const (
	OpEquals Op = iota
	OpIn
	OpGreaterThan
	OpLessThan
	OpBetween // inclusive on both ends; also covers the "range" spelling
)

// Node is one node of a compiled predicate tree. Trees are immutable after
// Compile and safe for concurrent evaluation across partitions.
type Node interface {
	// Eval computes the boolean row mask for one partition's column view.
	Eval(view *ColumnView) ([]bool, error)

	// appendColumns accumulates the columns the subtree reads.
	appendColumns(set map[string]bool)
}

// Leaf is a single column predicate.
type Leaf struct {
	Column string
	Op     Op
	Value  any   // equals, gt, lt
	Values []any // in
	Min    any   // between
	Max    any   // between
}

// And matches rows accepted by every child. An empty And matches all rows.
type And struct {
	Children []Node
}

// Or matches rows accepted by at least one child.
type Or struct {
	Children []Node
}

// Columns returns the distinct columns the tree reads, sorted by name.
func Columns(n Node) []string {
	set := make(map[string]bool)
	n.appendColumns(set)
	cols := make([]string, 0, len(set))
	for c := range set {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func (l *Leaf) appendColumns(set map[string]bool) { set[l.Column] = true }

func (a *And) appendColumns(set map[string]bool) {
	for _, c := range a.Children {
		c.appendColumns(set)
	}
}

func (o *Or) appendColumns(set map[string]bool) {
	for _, c := range o.Children {
		c.appendColumns(set)
	}
}

// -----------------------------------------------------------------------------
// Compiler
// -----------------------------------------------------------------------------

// Compile parses a nested filter document into a predicate tree, validating
// every referenced column against the schema. An empty document compiles to
// a match-all predicate.
//
// Document grammar, applied recursively:
//   - an "AND"/"OR" key maps its value (a nested object) to an And/Or node
//     over the recursively compiled entries of that value;
//   - any other key names a column, with the leaf operator chosen by value
//     shape: scalar means equals, a two-element all-numeric list means an
//     inclusive range, any other list means membership, and an object with
//     an "op" field selects the operator explicitly
//     (equals, in_list, gt, lt, range, between);
//   - sibling keys combine with AND.
//
// A two-element numeric list always compiles to a range, never a membership
// test; use {"op": "in_list", "values": [a, b]} for a two-element IN.
func Compile(spec map[string]any, schema Schema) (Node, error) {
	nodes, err := compileEntries(spec, schema)
	if err != nil {
		return nil, err
	}
	switch len(nodes) {
	case 0:
		return &And{}, nil // match-all
	case 1:
		return nodes[0], nil
	default:
		return &And{Children: nodes}, nil
	}
}

// CompileJSON parses a JSON filter document and compiles it.
func CompileJSON(doc []byte, schema Schema) (Node, error) {
	var spec map[string]any
	if err := json.Unmarshal(doc, &spec); err != nil {
		return nil, &FilterSpecError{Message: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return Compile(spec, schema)
}

// compileEntries compiles each entry of one object level. Keys are visited
// in sorted order so compiled trees (and their error reporting) are stable
// regardless of map iteration order; AND/OR are commutative so the order
// never changes evaluation results.
func compileEntries(block map[string]any, schema Schema) ([]Node, error) {
	keys := make([]string, 0, len(block))
	for k := range block {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	nodes := make([]Node, 0, len(keys))
	for _, key := range keys {
		node, err := compileEntry(key, block[key], schema)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func compileEntry(key string, value any, schema Schema) (Node, error) {
	switch key {
	case keywordAnd, keywordOr:
		inner, ok := value.(map[string]any)
		if !ok {
			return nil, &FilterSpecError{Key: key, Message: fmt.Sprintf("%s must contain a nested object, got %T", key, value)}
		}
		children, err := compileEntries(inner, schema)
		if err != nil {
			return nil, err
		}
		if key == keywordAnd {
			return &And{Children: children}, nil
		}
		return &Or{Children: children}, nil
	default:
		return compileLeaf(key, value, schema)
	}
}

func compileLeaf(column string, cond any, schema Schema) (*Leaf, error) {
	if !schema.Has(column) {
		return nil, &FilterSpecError{Key: column, Message: "column not in schema"}
	}

	switch v := cond.(type) {
	case string, bool, int, int64, float64:
		return &Leaf{Column: column, Op: OpEquals, Value: v}, nil

	case []any:
		if len(v) == 2 && isNumeric(v[0]) && isNumeric(v[1]) {
			return &Leaf{Column: column, Op: OpBetween, Min: v[0], Max: v[1]}, nil
		}
		return &Leaf{Column: column, Op: OpIn, Values: v}, nil

	case map[string]any:
		return compileExplicitLeaf(column, v)

	default:
		return nil, &FilterSpecError{Key: column, Message: fmt.Sprintf("unsupported condition type %T", cond)}
	}
}

// compileExplicitLeaf handles the {"op": ..., ...} condition form, checking
// the companion fields each operator requires.
func compileExplicitLeaf(column string, cond map[string]any) (*Leaf, error) {
	opField, ok := cond["op"]
	if !ok {
		return nil, &FilterSpecError{Key: column, Message: "condition object is missing op field"}
	}
	opName, ok := opField.(string)
	if !ok {
		return nil, &FilterSpecError{Key: column, Message: fmt.Sprintf("op must be a string, got %T", opField)}
	}

	switch opName {
	case "equals":
		val, ok := cond["value"]
		if !ok {
			return nil, &FilterSpecError{Key: column, Message: `op "equals" requires a value field`}
		}
		return &Leaf{Column: column, Op: OpEquals, Value: val}, nil

	case "in_list":
		raw, ok := cond["values"]
		if !ok {
			return nil, &FilterSpecError{Key: column, Message: `op "in_list" requires a values field`}
		}
		values, ok := raw.([]any)
		if !ok {
			return nil, &FilterSpecError{Key: column, Message: fmt.Sprintf("values must be a list, got %T", raw)}
		}
		return &Leaf{Column: column, Op: OpIn, Values: values}, nil

	case "gt":
		val, ok := cond["value"]
		if !ok {
			return nil, &FilterSpecError{Key: column, Message: `op "gt" requires a value field`}
		}
		return &Leaf{Column: column, Op: OpGreaterThan, Value: val}, nil

	case "lt":
		val, ok := cond["value"]
		if !ok {
			return nil, &FilterSpecError{Key: column, Message: `op "lt" requires a value field`}
		}
		return &Leaf{Column: column, Op: OpLessThan, Value: val}, nil

	case "range", "between":
		lo, okLo := cond["min"]
		hi, okHi := cond["max"]
		if !okLo || !okHi {
			return nil, &FilterSpecError{Key: column, Message: fmt.Sprintf("op %q requires min and max fields", opName)}
		}
		return &Leaf{Column: column, Op: OpBetween, Min: lo, Max: hi}, nil

	default:
		return nil, &FilterSpecError{Key: column, Message: fmt.Sprintf("unknown operator %q", opName)}
	}
}

func isNumeric(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}
