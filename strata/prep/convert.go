// Package prep prepares raw GDELT event exports for sampling. It converts
// tab-separated CSV exports into parquet partitions and cleans partitions
// by dropping rows with nulls in required columns.
package prep

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/substrat-io/strata/strata"
)

// -----------------------------------------------------------------------------
// CSV to Parquet Conversion
// -----------------------------------------------------------------------------

// ConvertReport summarizes a conversion run.
type ConvertReport struct {
	// FilesConverted is the number of input files written as partitions.
	FilesConverted int

	// FilesSkipped counts inputs whose output partition already existed.
	FilesSkipped int

	// Rows is the total number of rows written across all partitions.
	Rows int64

	// MalformedRows counts input lines dropped for having the wrong
	// field count.
	MalformedRows int64

	// Outputs lists the partition paths written, in input order.
	Outputs []string
}

// Converter turns tab-separated GDELT exports into parquet partitions.
//
// Inputs carry no header row; the schema's column order defines the field
// order. Numeric cells that fail to parse become nulls, matching the
// coerce-don't-drop convention of the raw feed. Lines with the wrong field
// count are dropped and counted.
type Converter struct {
	src    strata.Store
	dst    strata.Store
	schema strata.Schema
	log    *slog.Logger
}

// ConverterOption configures a Converter.
type ConverterOption func(*Converter)

// WithConvertLogger sets the logger used during conversion.
func WithConvertLogger(log *slog.Logger) ConverterOption {
	return func(c *Converter) {
		c.log = log
	}
}

// NewConverter creates a converter reading raw exports from src and writing
// parquet partitions to dst. The schema defines both the field order of the
// headerless input and the partition schema.
func NewConverter(src, dst strata.Store, schema strata.Schema, opts ...ConverterOption) *Converter {
	c := &Converter{
		src:    src,
		dst:    dst,
		schema: schema,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConvertAll converts every recognized input under prefix. Recognized
// extensions are .csv, .csv.gz, and .csv.zst (case-insensitive). A failed
// input aborts the run; partitions already written stay in place.
func (c *Converter) ConvertAll(ctx context.Context, prefix string) (*ConvertReport, error) {
	keys, err := c.src.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("prep: listing inputs: %w", err)
	}
	sort.Strings(keys)

	report := &ConvertReport{}
	for _, key := range keys {
		if _, ok := decompressorFor(key); !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, rows, malformed, err := c.convertOne(ctx, key)
		if err != nil {
			if errors.Is(err, strata.ErrPathExists) {
				c.log.Warn("partition exists, skipping input", "input", key)
				report.FilesSkipped++
				continue
			}
			return nil, fmt.Errorf("prep: converting %s: %w", key, err)
		}

		report.FilesConverted++
		report.Rows += rows
		report.MalformedRows += malformed
		report.Outputs = append(report.Outputs, out)

		c.log.Info("converted input",
			"input", key,
			"partition", out,
			"rows", rows,
			"malformed_rows", malformed)
	}

	c.log.Info("conversion complete",
		"files_converted", report.FilesConverted,
		"files_skipped", report.FilesSkipped,
		"rows", report.Rows,
		"malformed_rows", report.MalformedRows)
	return report, nil
}

func (c *Converter) convertOne(ctx context.Context, key string) (string, int64, int64, error) {
	rc, err := c.src.Get(ctx, key)
	if err != nil {
		return "", 0, 0, err
	}
	defer func() { _ = rc.Close() }()

	decompress, _ := decompressorFor(key)
	body, err := decompress(rc)
	if err != nil {
		return "", 0, 0, fmt.Errorf("opening %s: %w", key, err)
	}
	defer func() { _ = body.Close() }()

	rows, malformed, err := c.parseRows(body)
	if err != nil {
		return "", 0, 0, err
	}

	outKey := partitionKey(key)
	var buf bytes.Buffer
	if err := strata.EncodeParquet(&buf, c.schema, rows); err != nil {
		return "", 0, 0, err
	}
	if err := c.dst.Put(ctx, outKey, bytes.NewReader(buf.Bytes())); err != nil {
		return "", 0, 0, err
	}
	return outKey, int64(len(rows)), malformed, nil
}

// parseRows reads headerless tab-separated records, coercing each cell to
// the schema's column kind.
func (c *Converter) parseRows(r io.Reader) ([]strata.Row, int64, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	want := len(c.schema.Columns)
	var rows []strata.Row
	var malformed int64

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Unparseable line, skip it like a short record.
			malformed++
			continue
		}
		if len(record) != want {
			malformed++
			continue
		}

		row := make(strata.Row, want)
		for i, col := range c.schema.Columns {
			row[col.Name] = coerceCell(record[i], col.Kind)
		}
		rows = append(rows, row)
	}

	return rows, malformed, nil
}

// coerceCell converts a raw text cell to the column kind. Empty cells and
// failed numeric parses become nil.
func coerceCell(cell string, kind strata.Kind) any {
	if cell == "" {
		return nil
	}
	switch kind {
	case strata.KindInt64:
		v, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return nil
		}
		return v
	case strata.KindFloat64:
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil
		}
		return v
	case strata.KindBool:
		v, err := strconv.ParseBool(cell)
		if err != nil {
			return nil
		}
		return v
	default:
		return cell
	}
}

// -----------------------------------------------------------------------------
// Input naming
// -----------------------------------------------------------------------------

// partitionKey derives the output partition path from an input key,
// preserving the stem so day grouping survives conversion:
// "raw/20230101.export.csv.zst" becomes "20230101.export.parquet".
func partitionKey(key string) string {
	name := path.Base(key)
	lower := strings.ToLower(name)
	for _, ext := range []string{".csv.zst", ".csv.gz", ".csv"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)] + ".parquet"
		}
	}
	return name + ".parquet"
}

// decompressorFor returns the decompressor matching the input extension.
// ok is false for unrecognized extensions.
func decompressorFor(key string) (func(io.Reader) (io.ReadCloser, error), bool) {
	lower := strings.ToLower(key)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(r), nil
		}, true
	case strings.HasSuffix(lower, ".csv.gz"):
		return func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		}, true
	case strings.HasSuffix(lower, ".csv.zst"):
		return func(r io.Reader) (io.ReadCloser, error) {
			decoder, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return decoder.IOReadCloser(), nil
		}, true
	default:
		return nil, false
	}
}
