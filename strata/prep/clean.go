package prep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/substrat-io/strata/strata"
)

// -----------------------------------------------------------------------------
// Null-row Cleaning
// -----------------------------------------------------------------------------

// CleanReport summarizes a cleaning run.
type CleanReport struct {
	// FilesProcessed is the number of partitions cleaned and written.
	FilesProcessed int

	// FilesSkipped counts empty partitions and partitions whose cleaned
	// output already existed.
	FilesSkipped int

	// RowsBefore is the total row count across processed partitions.
	RowsBefore int64

	// RowsAfter is the total row count surviving the null check.
	RowsAfter int64

	// Outputs lists the cleaned partition paths written.
	Outputs []string
}

// Retention returns the fraction of rows kept, or 1 when no rows were seen.
func (r *CleanReport) Retention() float64 {
	if r.RowsBefore == 0 {
		return 1
	}
	return float64(r.RowsAfter) / float64(r.RowsBefore)
}

// Cleaner drops rows with nulls in required columns. A typical use keeps
// only events where both actors are identified by requiring Actor1Code and
// Actor2Code. Cleaned partitions keep their day stem with a _filtered
// suffix, so "20230101.export.parquet" becomes
// "20230101.export_filtered.parquet".
type Cleaner struct {
	src     strata.Store
	dst     strata.Store
	columns []string
	log     *slog.Logger
}

// CleanerOption configures a Cleaner.
type CleanerOption func(*Cleaner)

// WithCleanLogger sets the logger used during cleaning.
func WithCleanLogger(log *slog.Logger) CleanerOption {
	return func(c *Cleaner) {
		c.log = log
	}
}

// NewCleaner creates a cleaner that removes rows where any of the given
// columns is null. src and dst may be the same store.
func NewCleaner(src, dst strata.Store, columns []string, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		src:     src,
		dst:     dst,
		columns: columns,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CleanAll cleans every parquet partition under prefix. Columns absent from
// a partition's schema are ignored with a warning; a partition where none
// of the required columns exist is skipped rather than emptied.
func (c *Cleaner) CleanAll(ctx context.Context, prefix string) (*CleanReport, error) {
	if len(c.columns) == 0 {
		return nil, errors.New("prep: no columns to check")
	}

	keys, err := c.src.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("prep: listing partitions: %w", err)
	}
	sort.Strings(keys)

	report := &CleanReport{}
	for _, key := range keys {
		if !strings.HasSuffix(key, ".parquet") || strings.HasSuffix(key, "_filtered.parquet") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		before, after, out, err := c.cleanOne(ctx, key)
		if err != nil {
			if errors.Is(err, strata.ErrPathExists) {
				c.log.Warn("cleaned partition exists, skipping", "partition", key)
				report.FilesSkipped++
				continue
			}
			return nil, fmt.Errorf("prep: cleaning %s: %w", key, err)
		}
		if out == "" {
			report.FilesSkipped++
			continue
		}

		report.FilesProcessed++
		report.RowsBefore += before
		report.RowsAfter += after
		report.Outputs = append(report.Outputs, out)

		c.log.Info("cleaned partition",
			"partition", key,
			"output", out,
			"rows_before", before,
			"rows_after", after)
	}

	c.log.Info("cleaning complete",
		"files_processed", report.FilesProcessed,
		"files_skipped", report.FilesSkipped,
		"rows_before", report.RowsBefore,
		"rows_after", report.RowsAfter,
		"retention", report.Retention())
	return report, nil
}

func (c *Cleaner) cleanOne(ctx context.Context, key string) (before, after int64, out string, err error) {
	ra, err := c.src.Open(ctx, key)
	if err != nil {
		return 0, 0, "", err
	}
	defer func() { _ = ra.Close() }()

	schema, rows, err := strata.DecodeParquet(ra, ra.Size())
	if err != nil {
		return 0, 0, "", err
	}
	if len(rows) == 0 {
		c.log.Warn("empty partition skipped", "partition", key)
		return 0, 0, "", nil
	}

	var check []string
	for _, col := range c.columns {
		if schema.Has(col) {
			check = append(check, col)
		} else {
			c.log.Warn("required column missing from partition",
				"partition", key, "column", col)
		}
	}
	if len(check) == 0 {
		c.log.Warn("no required columns present, partition skipped", "partition", key)
		return 0, 0, "", nil
	}

	kept := rows[:0]
	for _, row := range rows {
		complete := true
		for _, col := range check {
			if row[col] == nil {
				complete = false
				break
			}
		}
		if complete {
			kept = append(kept, row)
		}
	}

	out = cleanedKey(key)
	var buf bytes.Buffer
	if err := strata.EncodeParquet(&buf, schema, kept); err != nil {
		return 0, 0, "", err
	}
	if err := c.dst.Put(ctx, out, bytes.NewReader(buf.Bytes())); err != nil {
		return 0, 0, "", err
	}
	return int64(len(rows)), int64(len(kept)), out, nil
}

// cleanedKey appends _filtered to the partition stem.
func cleanedKey(key string) string {
	stem := strings.TrimSuffix(key, ".parquet")
	return stem + "_filtered.parquet"
}
