package strata

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
)

// -----------------------------------------------------------------------------
// Dataset Index
// -----------------------------------------------------------------------------

// Index is an immutable snapshot of the partition files making up a dataset:
// their paths, row counts, day keys, and a cumulative row-count table that
// maps global row offsets to partitions in O(log P).
//
// The index must not observe partition mutation during a sampling session;
// offset arithmetic assumes the snapshot stays valid for the session.
type Index struct {
	store  Store
	parts  []Partition
	starts []int64 // starts[i] = global index of partition i's first row
	total  int64
	schema Schema
}

// indexConfig holds resolved options for BuildIndex.
type indexConfig struct {
	allowEmpty bool
	logger     *slog.Logger
}

// IndexOption configures BuildIndex.
type IndexOption func(*indexConfig)

// WithAllowEmpty tolerates zero-row partitions: they are skipped instead of
// failing the build.
func WithAllowEmpty() IndexOption {
	return func(c *indexConfig) { c.allowEmpty = true }
}

// WithIndexLogger sets the logger used while building the index.
func WithIndexLogger(l *slog.Logger) IndexOption {
	return func(c *indexConfig) { c.logger = l }
}

// BuildIndex enumerates the *.parquet objects under prefix in the store and
// builds the dataset index. Partitions are ordered by path so the global row
// order is stable across runs.
//
// Fails wrapping ErrIndex if any partition is unreadable or has zero rows
// (unless WithAllowEmpty is given), naming the offending partition. The
// schema is taken from the first partition.
func BuildIndex(ctx context.Context, store Store, prefix string, opts ...IndexOption) (*Index, error) {
	cfg := &indexConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	paths, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("strata: list partitions: %w", err)
	}

	var files []string
	for _, p := range paths {
		if strings.HasSuffix(p, ".parquet") {
			files = append(files, p)
		}
	}
	if len(files) == 0 {
		return nil, &PartitionError{Path: prefix, Message: "no parquet partitions found"}
	}
	sort.Strings(files)

	ix := &Index{store: store}
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ra, err := store.Open(ctx, p)
		if err != nil {
			return nil, &PartitionError{Path: p, Message: "open", Cause: err}
		}
		f, err := openPartition(ra, p)
		if err != nil {
			_ = ra.Close()
			return nil, err
		}

		rows := f.NumRows()
		if rows == 0 {
			_ = ra.Close()
			if cfg.allowEmpty {
				cfg.logger.Warn("skipping empty partition", "partition", p)
				continue
			}
			return nil, &PartitionError{Path: p, Message: "zero rows"}
		}

		if len(ix.parts) == 0 {
			schema, err := schemaFromParquet(f)
			if err != nil {
				_ = ra.Close()
				return nil, &PartitionError{Path: p, Message: "read schema", Cause: err}
			}
			ix.schema = schema
		}
		_ = ra.Close()

		ix.starts = append(ix.starts, ix.total)
		ix.parts = append(ix.parts, Partition{
			Path:   p,
			Rows:   rows,
			DayKey: dayKeyFromPath(p),
		})
		ix.total += rows
	}

	if len(ix.parts) == 0 {
		return nil, &PartitionError{Path: prefix, Message: "all partitions empty"}
	}

	cfg.logger.Info("dataset index built",
		"partitions", len(ix.parts),
		"total_rows", ix.total,
	)
	return ix, nil
}

// TotalRows returns the total row count across all partitions.
func (ix *Index) TotalRows() int64 { return ix.total }

// Schema returns the dataset schema.
func (ix *Index) Schema() Schema { return ix.schema }

// Partitions returns a copy of the partition snapshot in index order.
func (ix *Index) Partitions() []Partition {
	out := make([]Partition, len(ix.parts))
	copy(out, ix.parts)
	return out
}

// Locate maps a global row index in [0, TotalRows) to its partition and
// local offset via binary search on the cumulative row-count table.
func (ix *Index) Locate(global int64) (part int, local int64, err error) {
	if global < 0 || global >= ix.total {
		return 0, 0, fmt.Errorf("strata: global index %d out of range [0, %d)", global, ix.total)
	}
	// First partition whose start is beyond global, minus one.
	i := sort.Search(len(ix.starts), func(i int) bool { return ix.starts[i] > global }) - 1
	return i, global - ix.starts[i], nil
}

// DayGroup is the set of partitions sharing one day key, in index order.
type DayGroup struct {
	Key   string
	Parts []int
	Rows  int64
}

// DayGroups returns partitions grouped by day key in ascending day order.
// Fails wrapping ErrDayKey if any partition lacks a day key.
func (ix *Index) DayGroups() ([]DayGroup, error) {
	byKey := make(map[string]*DayGroup)
	var keys []string
	for i, p := range ix.parts {
		if p.DayKey == "" {
			return nil, &DayKeyError{Path: p.Path}
		}
		g, ok := byKey[p.DayKey]
		if !ok {
			g = &DayGroup{Key: p.DayKey}
			byKey[p.DayKey] = g
			keys = append(keys, p.DayKey)
		}
		g.Parts = append(g.Parts, i)
		g.Rows += p.Rows
	}
	sort.Strings(keys)

	groups := make([]DayGroup, len(keys))
	for i, k := range keys {
		groups[i] = *byKey[k]
	}
	return groups, nil
}

// dayKeyFromPath extracts the YYYYMMDD day key from a partition file name.
// GDELT exports (and the conversion stage) name files with a leading
// eight-digit date stem; anything else has no day key.
func dayKeyFromPath(p string) string {
	base := path.Base(p)
	if len(base) < 8 {
		return ""
	}
	for i := 0; i < 8; i++ {
		if base[i] < '0' || base[i] > '9' {
			return ""
		}
	}
	// A ninth digit would mean the stem is not a plain date.
	if len(base) > 8 && base[8] >= '0' && base[8] <= '9' {
		return ""
	}
	return base[:8]
}
