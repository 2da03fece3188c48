package strata

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// ErrSchemaViolation indicates a row that does not conform to the schema.
var ErrSchemaViolation = errors.New("schema violation")

// -----------------------------------------------------------------------------
// Schema mapping
// -----------------------------------------------------------------------------

// orderedNode wraps a group node and overrides its field order.
// parquet.Group is a map and sorts fields alphabetically; files must keep
// the dataset schema's column order instead, so projections survive an
// encode/decode round trip.
type orderedNode struct {
	parquet.Node
	fields []parquet.Field
}

func (n orderedNode) Fields() []parquet.Field { return n.fields }

// buildParquetSchema creates a parquet-go schema from a dataset schema. The
// built schema's field order equals the dataset schema's column order.
func buildParquetSchema(schema Schema) (*parquet.Schema, error) {
	group := make(parquet.Group, len(schema.Columns))
	for _, col := range schema.Columns {
		if col.Name == "" {
			return nil, fmt.Errorf("%w: column name cannot be empty", ErrSchemaViolation)
		}
		if _, dup := group[col.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate column name %q", ErrSchemaViolation, col.Name)
		}

		var node parquet.Node
		switch col.Kind {
		case KindString:
			node = parquet.String()
		case KindInt64:
			node = parquet.Int(64)
		case KindFloat64:
			node = parquet.Leaf(parquet.DoubleType)
		case KindBool:
			node = parquet.Leaf(parquet.BooleanType)
		default:
			return nil, fmt.Errorf("%w: invalid kind %d for column %q", ErrSchemaViolation, col.Kind, col.Name)
		}
		if col.Nullable {
			node = parquet.Optional(node)
		}
		group[col.Name] = node
	}

	byName := make(map[string]parquet.Field, len(group))
	for _, f := range group.Fields() {
		byName[f.Name()] = f
	}
	ordered := make([]parquet.Field, len(schema.Columns))
	for i, col := range schema.Columns {
		ordered[i] = byName[col.Name]
	}
	return parquet.NewSchema("row", orderedNode{Node: group, fields: ordered}), nil
}

// schemaFromParquet derives a dataset schema from a parquet file's own
// schema. Column order follows the file's field order.
func schemaFromParquet(f *parquet.File) (Schema, error) {
	fields := f.Schema().Fields()
	cols := make([]Column, 0, len(fields))
	for _, field := range fields {
		if !field.Leaf() {
			return Schema{}, fmt.Errorf("%w: nested column %q is not supported", ErrSchemaViolation, field.Name())
		}

		var kind Kind
		switch field.Type().Kind() {
		case parquet.Boolean:
			kind = KindBool
		case parquet.Int32, parquet.Int64:
			kind = KindInt64
		case parquet.Float, parquet.Double:
			kind = KindFloat64
		case parquet.ByteArray, parquet.FixedLenByteArray:
			kind = KindString
		default:
			return Schema{}, fmt.Errorf("%w: column %q has unsupported parquet type %s", ErrSchemaViolation, field.Name(), field.Type())
		}

		cols = append(cols, Column{
			Name:     field.Name(),
			Kind:     kind,
			Nullable: field.Optional(),
		})
	}
	return Schema{Columns: cols}, nil
}

// -----------------------------------------------------------------------------
// Encoding
// -----------------------------------------------------------------------------

// EncodeParquet writes rows as one snappy-compressed parquet file.
//
// Rows must conform to the schema: a missing or nil cell is written as null
// when the column is nullable and rejected otherwise.
func EncodeParquet(w io.Writer, schema Schema, rows []Row) error {
	pqSchema, err := buildParquetSchema(schema)
	if err != nil {
		return err
	}

	fieldOrder := make([]string, len(pqSchema.Fields()))
	for i, f := range pqSchema.Fields() {
		fieldOrder[i] = f.Name()
	}

	rowBuf := parquet.NewBuffer(pqSchema)
	for i, row := range rows {
		pqRow, err := rowToParquet(row, schema, fieldOrder, i)
		if err != nil {
			return err
		}
		if _, err := rowBuf.WriteRows([]parquet.Row{pqRow}); err != nil {
			return fmt.Errorf("parquet: write row %d: %w", i, err)
		}
	}

	var buf bytes.Buffer
	pqWriter := parquet.NewWriter(&buf, pqSchema, parquet.Compression(&parquet.Snappy))
	if len(rows) > 0 {
		if _, err := pqWriter.WriteRowGroup(rowBuf); err != nil {
			_ = pqWriter.Close()
			return fmt.Errorf("parquet: write row group: %w", err)
		}
	}
	if err := pqWriter.Close(); err != nil {
		return fmt.Errorf("parquet: close writer: %w", err)
	}

	_, err = io.Copy(w, &buf)
	return err
}

// rowToParquet converts a Row to a parquet row in the built schema's field
// order.
func rowToParquet(row Row, schema Schema, fieldOrder []string, index int) (parquet.Row, error) {
	out := make(parquet.Row, len(fieldOrder))
	for i, name := range fieldOrder {
		col, _ := schema.Lookup(name)

		val, exists := row[name]
		if !exists || val == nil {
			if !col.Nullable {
				return nil, fmt.Errorf("%w: row %d missing required column %q", ErrSchemaViolation, index, name)
			}
			out[i] = parquet.NullValue().Level(0, 0, i)
			continue
		}

		pqVal, err := toParquetValue(val, col, index)
		if err != nil {
			return nil, err
		}
		defLevel := 0
		if col.Nullable {
			defLevel = 1
		}
		out[i] = pqVal.Level(0, defLevel, i)
	}
	return out, nil
}

func toParquetValue(val any, col Column, index int) (parquet.Value, error) {
	switch col.Kind {
	case KindInt64:
		switch v := val.(type) {
		case int:
			return parquet.Int64Value(int64(v)), nil
		case int32:
			return parquet.Int64Value(int64(v)), nil
		case int64:
			return parquet.Int64Value(v), nil
		case float64: // JSON numbers
			if v != float64(int64(v)) {
				return parquet.Value{}, fmt.Errorf("%w: row %d column %q: %v is not an integer", ErrSchemaViolation, index, col.Name, v)
			}
			return parquet.Int64Value(int64(v)), nil
		default:
			return parquet.Value{}, fmt.Errorf("%w: row %d column %q: expected int64, got %T", ErrSchemaViolation, index, col.Name, val)
		}

	case KindFloat64:
		switch v := val.(type) {
		case float32:
			return parquet.DoubleValue(float64(v)), nil
		case float64:
			return parquet.DoubleValue(v), nil
		case int:
			return parquet.DoubleValue(float64(v)), nil
		case int64:
			return parquet.DoubleValue(float64(v)), nil
		default:
			return parquet.Value{}, fmt.Errorf("%w: row %d column %q: expected float64, got %T", ErrSchemaViolation, index, col.Name, val)
		}

	case KindString:
		switch v := val.(type) {
		case string:
			return parquet.ByteArrayValue([]byte(v)), nil
		case []byte:
			return parquet.ByteArrayValue(v), nil
		default:
			return parquet.Value{}, fmt.Errorf("%w: row %d column %q: expected string, got %T", ErrSchemaViolation, index, col.Name, val)
		}

	case KindBool:
		switch v := val.(type) {
		case bool:
			return parquet.BooleanValue(v), nil
		default:
			return parquet.Value{}, fmt.Errorf("%w: row %d column %q: expected bool, got %T", ErrSchemaViolation, index, col.Name, val)
		}

	default:
		return parquet.Value{}, fmt.Errorf("%w: row %d column %q: unknown kind %d", ErrSchemaViolation, index, col.Name, col.Kind)
	}
}

// fromParquetValue converts a parquet value back to a Go value by physical
// kind, normalizing integers to int64 and floats to float64.
func fromParquetValue(val parquet.Value) any {
	if val.IsNull() {
		return nil
	}
	switch val.Kind() {
	case parquet.Boolean:
		return val.Boolean()
	case parquet.Int32:
		return int64(val.Int32())
	case parquet.Int64:
		return val.Int64()
	case parquet.Float:
		return float64(val.Float())
	case parquet.Double:
		return val.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(val.ByteArray())
	default:
		return nil
	}
}

// -----------------------------------------------------------------------------
// Decoding
// -----------------------------------------------------------------------------

// DecodeParquet reads a whole parquet file into rows. Intended for small
// files (output artifacts, test fixtures); partition access inside the
// sampling core goes through column views and row seeks instead.
func DecodeParquet(ra io.ReaderAt, size int64) (Schema, []Row, error) {
	f, err := parquet.OpenFile(ra, size)
	if err != nil {
		return Schema{}, nil, fmt.Errorf("parquet: open: %w", err)
	}
	schema, err := schemaFromParquet(f)
	if err != nil {
		return Schema{}, nil, err
	}

	fields := f.Schema().Fields()
	names := make([]string, len(fields))
	for i, field := range fields {
		names[i] = field.Name()
	}

	rows := make([]Row, 0, f.NumRows())
	reader := parquet.NewReader(f)
	defer func() { _ = reader.Close() }()

	buf := make([]parquet.Row, 128)
	for {
		n, err := reader.ReadRows(buf)
		for i := range n {
			row := make(Row, len(names))
			for j, name := range names {
				if j >= len(buf[i]) {
					continue
				}
				row[name] = fromParquetValue(buf[i][j])
			}
			rows = append(rows, row)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Schema{}, nil, fmt.Errorf("parquet: read rows: %w", err)
		}
	}
	return schema, rows, nil
}

// -----------------------------------------------------------------------------
// Partition access
// -----------------------------------------------------------------------------

// openPartition opens one partition file through the store. The caller must
// close the returned ReaderAt.
func openPartition(ra ReaderAt, path string) (*parquet.File, error) {
	f, err := parquet.OpenFile(ra, ra.Size())
	if err != nil {
		return nil, &PartitionError{Path: path, Message: "open parquet file", Cause: err}
	}
	return f, nil
}

// readColumnView scans a partition once and retains only the named columns.
// Cell values are normalized like fromParquetValue.
func readColumnView(f *parquet.File, path string, columns []string) (*ColumnView, error) {
	fields := f.Schema().Fields()

	// field index -> retained column name
	want := make(map[string]bool, len(columns))
	for _, c := range columns {
		want[c] = true
	}
	type slot struct {
		field int
		name  string
	}
	var slots []slot
	for i, field := range fields {
		if want[field.Name()] {
			slots = append(slots, slot{field: i, name: field.Name()})
		}
	}
	if len(slots) != len(want) {
		for _, c := range columns {
			found := false
			for _, s := range slots {
				if s.name == c {
					found = true
					break
				}
			}
			if !found {
				return nil, &PartitionError{Path: path, Message: fmt.Sprintf("column %q not in partition schema", c)}
			}
		}
	}

	view := &ColumnView{
		rows: int(f.NumRows()),
		cols: make(map[string][]any, len(slots)),
	}
	for _, s := range slots {
		view.cols[s.name] = make([]any, 0, view.rows)
	}

	reader := parquet.NewReader(f)
	defer func() { _ = reader.Close() }()

	buf := make([]parquet.Row, 256)
	for {
		n, err := reader.ReadRows(buf)
		for i := range n {
			for _, s := range slots {
				var v any
				if s.field < len(buf[i]) {
					v = fromParquetValue(buf[i][s.field])
				}
				view.cols[s.name] = append(view.cols[s.name], v)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &PartitionError{Path: path, Message: "read rows", Cause: err}
		}
	}
	return view, nil
}

// readRowsAt extracts the rows at the given local offsets, which must be
// sorted ascending. Each row is decoded into a Row keyed by column name.
func readRowsAt(f *parquet.File, path string, locals []int64) ([]Row, error) {
	fields := f.Schema().Fields()
	names := make([]string, len(fields))
	for i, field := range fields {
		names[i] = field.Name()
	}

	reader := parquet.NewReader(f)
	defer func() { _ = reader.Close() }()

	out := make([]Row, 0, len(locals))
	buf := make([]parquet.Row, 1)
	next := int64(0) // reader position, tracked to skip redundant seeks
	for _, local := range locals {
		if local != next {
			if err := reader.SeekToRow(local); err != nil {
				return nil, &PartitionError{Path: path, Message: fmt.Sprintf("seek to row %d", local), Cause: err}
			}
		}
		n, err := reader.ReadRows(buf)
		if n == 0 {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return nil, &PartitionError{Path: path, Message: fmt.Sprintf("read row %d", local), Cause: err}
		}
		row := make(Row, len(names))
		for j, name := range names {
			if j >= len(buf[0]) {
				continue
			}
			row[name] = fromParquetValue(buf[0][j])
		}
		out = append(out, row)
		next = local + 1
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, &PartitionError{Path: path, Message: "read rows", Cause: err}
		}
	}
	return out, nil
}
