// Package main implements the strata command line tool. It prepares raw
// GDELT exports as parquet partitions and draws reproducible samples from
// them.
//
// Usage:
//
//	strata convert -in raw/ -out partitions/
//	strata clean -in partitions/ -out partitions/ -columns Actor1Code,Actor2Code
//	strata sample -mode indexed -n 1000 -seed 42 -in partitions/ -out sample.parquet
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"

	"github.com/substrat-io/strata/strata"
	"github.com/substrat-io/strata/strata/prep"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var err error
	switch os.Args[1] {
	case "convert":
		err = runConvert(ctx, os.Args[2:])
	case "clean":
		err = runClean(ctx, os.Args[2:])
	case "sample":
		err = runSample(ctx, os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "strata: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `strata prepares partitioned parquet datasets and draws reproducible samples.

Commands:
  convert   convert tab-separated GDELT exports (.csv, .csv.gz, .csv.zst) to parquet
  clean     drop rows with nulls in required columns
  sample    draw a reproducible sample from a partitioned dataset

Run "strata <command> -h" for command flags.
`)
}

// setupLogger installs the process logger. Debug logging is opt-in per
// command via -v.
func setupLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)
	return log
}

// -----------------------------------------------------------------------------
// convert
// -----------------------------------------------------------------------------

func runConvert(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	in := fs.String("in", "", "directory with raw exports (required)")
	out := fs.String("out", "", "directory for parquet partitions (required)")
	verbose := fs.Bool("v", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	log := setupLogger(*verbose)

	if *in == "" || *out == "" {
		fs.Usage()
		return fmt.Errorf("convert: -in and -out are required")
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}

	src, err := strata.NewFS(*in)
	if err != nil {
		return err
	}
	dst, err := strata.NewFS(*out)
	if err != nil {
		return err
	}

	conv := prep.NewConverter(src, dst, prep.EventSchema(), prep.WithConvertLogger(log))
	report, err := conv.ConvertAll(ctx, "")
	if err != nil {
		return err
	}

	fmt.Printf("converted %d file(s), %d row(s), %d malformed row(s) dropped\n",
		report.FilesConverted, report.Rows, report.MalformedRows)
	return nil
}

// -----------------------------------------------------------------------------
// clean
// -----------------------------------------------------------------------------

func runClean(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	in := fs.String("in", "", "directory with parquet partitions (required)")
	out := fs.String("out", "", "directory for cleaned partitions (defaults to -in)")
	columns := fs.String("columns", "", "comma-separated columns that must be non-null (required)")
	verbose := fs.Bool("v", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	log := setupLogger(*verbose)

	if *in == "" || *columns == "" {
		fs.Usage()
		return fmt.Errorf("clean: -in and -columns are required")
	}
	if *out == "" {
		*out = *in
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return err
	}

	src, err := strata.NewFS(*in)
	if err != nil {
		return err
	}
	dst, err := strata.NewFS(*out)
	if err != nil {
		return err
	}

	cleaner := prep.NewCleaner(src, dst, splitList(*columns), prep.WithCleanLogger(log))
	report, err := cleaner.CleanAll(ctx, "")
	if err != nil {
		return err
	}

	fmt.Printf("cleaned %d file(s): %d -> %d rows (%.1f%% kept)\n",
		report.FilesProcessed, report.RowsBefore, report.RowsAfter,
		report.Retention()*100)
	return nil
}

// -----------------------------------------------------------------------------
// sample
// -----------------------------------------------------------------------------

func runSample(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	in := fs.String("in", "", "directory with parquet partitions (required)")
	out := fs.String("out", "", "output parquet file (required)")
	mode := fs.String("mode", "indexed", "sampling mode: indexed, daily, or filtered")
	n := fs.Int64("n", 0, "rows to draw (indexed and filtered modes)")
	perDay := fs.Int64("per-day", 0, "rows to draw per day (daily mode)")
	seed := fs.String("seed", "", "RNG seed for reproducibility (drawn if omitted)")
	columns := fs.String("columns", "", "comma-separated columns to keep (all if omitted)")
	filter := fs.String("filter", "", "filter document as JSON, or @file (filtered mode)")
	stratifyColumn := fs.String("stratify-column", "", "column to stratify matches by (filtered mode)")
	nPerGroup := fs.Int64("n-per-group", 0, "rows to draw per stratum (with -stratify-column)")
	workers := fs.Int("workers", 0, "partition reader concurrency (default GOMAXPROCS)")
	verbose := fs.Bool("v", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	log := setupLogger(*verbose)

	if *in == "" || *out == "" {
		fs.Usage()
		return fmt.Errorf("sample: -in and -out are required")
	}

	req := strata.Request{
		Mode:           strata.Mode(*mode),
		N:              *n,
		PerDay:         *perDay,
		Columns:        splitList(*columns),
		StratifyColumn: *stratifyColumn,
		NPerGroup:      *nPerGroup,
	}

	if *seed != "" {
		v, err := strconv.ParseInt(*seed, 10, 64)
		if err != nil {
			return fmt.Errorf("sample: invalid -seed %q: %w", *seed, err)
		}
		req.Seed = &v
	}

	if *filter != "" {
		doc, err := loadFilter(*filter)
		if err != nil {
			return err
		}
		req.Filter = doc
	} else if req.Mode == strata.ModeFiltered {
		// An explicit empty document means match-all.
		req.Filter = map[string]any{}
	}

	store, err := strata.NewFS(*in)
	if err != nil {
		return err
	}
	idx, err := strata.BuildIndex(ctx, store, "", strata.WithIndexLogger(log))
	if err != nil {
		return err
	}
	log.Info("dataset indexed", "partitions", len(idx.Partitions()), "rows", idx.TotalRows())

	opts := []strata.SamplerOption{strata.WithLogger(log)}
	if *workers > 0 {
		opts = append(opts, strata.WithWorkers(*workers))
	}

	res, err := strata.NewSampler(idx, opts...).Sample(ctx, req)
	if err != nil {
		return err
	}

	outDir := filepath.Dir(*out)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	outStore, err := strata.NewFS(outDir)
	if err != nil {
		return err
	}
	if err := strata.WriteArtifact(ctx, outStore, filepath.Base(*out), res); err != nil {
		return err
	}

	prov, err := json.MarshalIndent(res.Provenance, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", prov)
	return nil
}

// loadFilter parses the -filter value, reading it from a file when the
// value starts with @.
func loadFilter(value string) (map[string]any, error) {
	data := []byte(value)
	if strings.HasPrefix(value, "@") {
		var err error
		data, err = os.ReadFile(value[1:])
		if err != nil {
			return nil, fmt.Errorf("sample: reading filter file: %w", err)
		}
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("sample: parsing filter: %w", err)
	}
	return doc, nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
