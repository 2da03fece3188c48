// Package strata draws bounded, reproducible row samples from datasets that
// are physically split across many parquet partition files.
//
// Strata focuses on the sampling core: a dataset index over partition files,
// a filter compiler and evaluator for nested boolean predicates, and three
// sampling strategies (indexed, daily, filtered). It never materializes the
// full dataset; peak memory is proportional to one partition plus the
// selected rows.
package strata

import (
	"context"
	"io"
)

// -----------------------------------------------------------------------------
// Core types
// -----------------------------------------------------------------------------

// Row is a single record keyed by column name. Missing and null cells are
// represented as nil values.
type Row map[string]any

// Kind enumerates supported column value types.
type Kind int

// Column kinds for schema definitions.
const (
	KindString Kind = iota
	KindInt64
	KindFloat64
	KindBool
	kindMax // sentinel for validation
)

// Column describes a single column of the dataset schema.
type Column struct {
	Name     string
	Kind     Kind
	Nullable bool
}

// Schema is the ordered column layout shared by all partitions of a dataset.
type Schema struct {
	Columns []Column
}

// Lookup returns the column with the given name.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Has reports whether the schema contains a column with the given name.
func (s Schema) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Names returns the column names in schema order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Partition is an immutable description of one partition file, taken once
// per sampling session. DayKey is empty when the file name carries no
// YYYYMMDD stem.
type Partition struct {
	Path   string
	Rows   int64
	DayKey string
}

// -----------------------------------------------------------------------------
// Sample requests and results
// -----------------------------------------------------------------------------

// Mode selects a sampling strategy.
type Mode string

// Sampling modes.
const (
	ModeIndexed  Mode = "indexed"
	ModeDaily    Mode = "daily"
	ModeFiltered Mode = "filtered"
)

// Request describes one sampling run.
//
// Exactly one of N (indexed, filtered) and PerDay (daily) is meaningful for
// a given mode. Filter is required iff Mode is ModeFiltered. A nil Seed is
// replaced by a freshly drawn seed which is reported in the provenance so
// the run stays reproducible.
type Request struct {
	Mode Mode

	// N is the number of rows to draw for indexed and filtered modes.
	N int64

	// PerDay is the per-day quota for daily mode.
	PerDay int64

	// Seed is the master seed. Nil means "choose one and report it".
	Seed *int64

	// Columns optionally restricts the output to the named columns, in the
	// given order. Validated against the dataset schema before any sampling
	// work starts.
	Columns []string

	// Filter is the nested filter document for filtered mode. Ignored by
	// other modes.
	Filter map[string]any

	// StratifyColumn optionally groups filtered matches by this column's
	// value and draws NPerGroup rows independently within each group.
	StratifyColumn string

	// NPerGroup is the per-group quota when StratifyColumn is set.
	NPerGroup int64
}

// Provenance records how a sample was produced. ReturnedN < RequestedN
// signals shortfall, which is not an error.
type Provenance struct {
	RunID      string `json:"run_id"`
	Mode       Mode   `json:"mode"`
	Seed       int64  `json:"seed"`
	RequestedN int64  `json:"requested_n"`
	ReturnedN  int64  `json:"returned_n"`
}

// Result is an ordered sequence of sampled rows plus provenance metadata.
// Row order is fully determined by (mode, seed, filter) and independent of
// partition processing order.
type Result struct {
	Rows       []Row
	Schema     Schema
	Provenance Provenance
}

// -----------------------------------------------------------------------------
// Store interface
// -----------------------------------------------------------------------------

// Store abstracts the object storage holding partition files and output
// artifacts. Implementations target the local filesystem, memory, or
// S3-compatible object stores.
type Store interface {
	// Put writes data to the given path. Paths are write-once; writing to
	// an existing path returns ErrPathExists.
	Put(ctx context.Context, path string, r io.Reader) error

	// Get retrieves data from the given path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Open returns a random-access reader for the given path. Parquet
	// footers and row groups are read through this.
	Open(ctx context.Context, path string) (ReaderAt, error)

	// Exists checks whether a path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the path if it exists.
	Delete(ctx context.Context, path string) error
}

// ReaderAt provides random access to one stored object.
type ReaderAt interface {
	io.ReaderAt
	io.Closer

	// Size returns the total size of the object in bytes.
	Size() int64
}
