package strata

import (
	"bytes"
	"context"
	"fmt"
)

// -----------------------------------------------------------------------------
// Output Assembler
// -----------------------------------------------------------------------------

// WriteArtifact writes a sample result as one parquet artifact at the given
// store path, preserving the row order the originating sampler produced.
// When columns are given the output is projected to exactly those columns in
// that order; an unknown name fails with ErrUnknownColumn before anything is
// written. The artifact is published in a single write-once Put, so an
// aborted or failed run leaves no partial file behind.
func WriteArtifact(ctx context.Context, store Store, path string, res *Result, columns ...string) error {
	schema, err := projectSchema(res.Schema, columns)
	if err != nil {
		return err
	}

	rows := res.Rows
	if len(columns) > 0 {
		rows = projectRows(res.Rows, columns)
	}

	var buf bytes.Buffer
	if err := EncodeParquet(&buf, schema, rows); err != nil {
		return fmt.Errorf("strata: encode artifact: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.Put(ctx, path, &buf); err != nil {
		return fmt.Errorf("strata: write artifact %s: %w", path, err)
	}
	return nil
}

// projectSchema returns the sub-schema for the requested columns in request
// order, or the full schema when none are requested.
func projectSchema(schema Schema, columns []string) (Schema, error) {
	if len(columns) == 0 {
		return schema, nil
	}
	cols := make([]Column, 0, len(columns))
	for _, name := range columns {
		col, ok := schema.Lookup(name)
		if !ok {
			return Schema{}, &UnknownColumnError{Column: name}
		}
		cols = append(cols, col)
	}
	return Schema{Columns: cols}, nil
}

// projectRows copies rows down to the requested columns.
func projectRows(rows []Row, columns []string) []Row {
	out := make([]Row, len(rows))
	for i, row := range rows {
		projected := make(Row, len(columns))
		for _, name := range columns {
			projected[name] = row[name]
		}
		out[i] = projected
	}
	return out
}
