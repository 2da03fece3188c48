package strata

import (
	"fmt"
	"strconv"
)

// -----------------------------------------------------------------------------
// Column views
// -----------------------------------------------------------------------------

// ColumnView holds the cell values of one partition for the columns a
// predicate tree reads. Views are built per partition call and discarded;
// no evaluation state crosses partition boundaries.
type ColumnView struct {
	rows int
	cols map[string][]any
}

// NewColumnView builds a view from pre-extracted column slices. All slices
// must have the same length.
func NewColumnView(cols map[string][]any) (*ColumnView, error) {
	rows := -1
	for name, vals := range cols {
		if rows == -1 {
			rows = len(vals)
		} else if len(vals) != rows {
			return nil, fmt.Errorf("strata: column %q has %d cells, want %d", name, len(vals), rows)
		}
	}
	if rows == -1 {
		rows = 0
	}
	return &ColumnView{rows: rows, cols: cols}, nil
}

// Len returns the partition's row count.
func (v *ColumnView) Len() int { return v.rows }

// Column returns the cell values of one column.
func (v *ColumnView) Column(name string) ([]any, error) {
	vals, ok := v.cols[name]
	if !ok {
		return nil, &UnknownColumnError{Column: name}
	}
	return vals, nil
}

// -----------------------------------------------------------------------------
// Evaluation
//
// Evaluation is pure: a node plus a column view always yields the same mask.
// And/Or combine child masks elementwise, so child evaluation order cannot
// change the result. Null cells never match any leaf.
// -----------------------------------------------------------------------------

func (a *And) Eval(view *ColumnView) ([]bool, error) {
	mask := make([]bool, view.Len())
	for i := range mask {
		mask[i] = true
	}
	for _, child := range a.Children {
		m, err := child.Eval(view)
		if err != nil {
			return nil, err
		}
		for i := range mask {
			mask[i] = mask[i] && m[i]
		}
	}
	return mask, nil
}

func (o *Or) Eval(view *ColumnView) ([]bool, error) {
	mask := make([]bool, view.Len())
	for _, child := range o.Children {
		m, err := child.Eval(view)
		if err != nil {
			return nil, err
		}
		for i := range mask {
			mask[i] = mask[i] || m[i]
		}
	}
	return mask, nil
}

func (l *Leaf) Eval(view *ColumnView) ([]bool, error) {
	cells, err := view.Column(l.Column)
	if err != nil {
		return nil, err
	}

	mask := make([]bool, len(cells))
	switch l.Op {
	case OpEquals:
		for i, c := range cells {
			mask[i] = valueEqual(c, l.Value)
		}
	case OpIn:
		for i, c := range cells {
			for _, v := range l.Values {
				if valueEqual(c, v) {
					mask[i] = true
					break
				}
			}
		}
	case OpGreaterThan:
		for i, c := range cells {
			if cmp, ok := valueCompare(c, l.Value); ok {
				mask[i] = cmp > 0
			}
		}
	case OpLessThan:
		for i, c := range cells {
			if cmp, ok := valueCompare(c, l.Value); ok {
				mask[i] = cmp < 0
			}
		}
	case OpBetween:
		for i, c := range cells {
			lo, okLo := valueCompare(c, l.Min)
			hi, okHi := valueCompare(c, l.Max)
			mask[i] = okLo && okHi && lo >= 0 && hi <= 0
		}
	default:
		return nil, fmt.Errorf("strata: unknown operator %d", l.Op)
	}
	return mask, nil
}

// -----------------------------------------------------------------------------
// Cell comparisons
// -----------------------------------------------------------------------------

// valueEqual compares a cell against an operand. Numbers compare by value
// across int64/float64 so a JSON operand matches an integer column. Nulls
// and mismatched types never match.
func valueEqual(cell, operand any) bool {
	if cell == nil || operand == nil {
		return false
	}
	if cn, ok := asFloat(cell); ok {
		if on, ok := asFloat(operand); ok {
			return cn == on
		}
		return false
	}
	switch c := cell.(type) {
	case string:
		o, ok := operand.(string)
		return ok && c == o
	case bool:
		o, ok := operand.(bool)
		return ok && c == o
	default:
		return false
	}
}

// valueCompare orders a cell against an operand, returning ok=false when the
// pair is not comparable (null cell, type mismatch).
func valueCompare(cell, operand any) (int, bool) {
	if cell == nil || operand == nil {
		return 0, false
	}
	if cn, ok := asFloat(cell); ok {
		on, ok := asFloat(operand)
		if !ok {
			return 0, false
		}
		switch {
		case cn < on:
			return -1, true
		case cn > on:
			return 1, true
		default:
			return 0, true
		}
	}
	if cs, ok := cell.(string); ok {
		os, ok := operand.(string)
		if !ok {
			return 0, false
		}
		switch {
		case cs < os:
			return -1, true
		case cs > os:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// canonicalKey renders a cell value as a stable string, used for
// stratification group identity and child seed derivation.
func canonicalKey(v any) string {
	switch c := v.(type) {
	case nil:
		return "<null>"
	case string:
		return c
	case bool:
		return strconv.FormatBool(c)
	case int64:
		return strconv.FormatInt(c, 10)
	case float64:
		if c == float64(int64(c)) {
			return strconv.FormatInt(int64(c), 10)
		}
		return strconv.FormatFloat(c, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", c)
	}
}
