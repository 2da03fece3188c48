package strata

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// -----------------------------------------------------------------------------
// Sampler
// -----------------------------------------------------------------------------

// Sampler draws reproducible samples from an immutable dataset index. The
// index is borrowed read-only; a Sampler is safe for concurrent use.
type Sampler struct {
	idx     *Index
	workers int
	log     *slog.Logger
}

// SamplerOption configures a Sampler.
type SamplerOption func(*Sampler)

// WithWorkers bounds the partition worker pool. Values below one fall back
// to the default.
func WithWorkers(n int) SamplerOption {
	return func(s *Sampler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithLogger sets the logger for sampling progress and provenance.
func WithLogger(l *slog.Logger) SamplerOption {
	return func(s *Sampler) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSampler creates a Sampler over the given index.
func NewSampler(idx *Index, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		idx:     idx,
		workers: runtime.GOMAXPROCS(0),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample validates a request and dispatches to the mode's strategy. A nil
// request seed is replaced with a freshly drawn one; the effective seed is
// always reported in the result's provenance.
func (s *Sampler) Sample(ctx context.Context, req Request) (*Result, error) {
	for _, col := range req.Columns {
		if !s.idx.schema.Has(col) {
			return nil, &UnknownColumnError{Column: col}
		}
	}

	seed, err := resolveSeed(req.Seed)
	if err != nil {
		return nil, err
	}
	if req.Seed == nil {
		s.log.Info("no seed supplied, drew one for reproducibility", "seed", seed)
	}

	var res *Result
	switch req.Mode {
	case ModeIndexed:
		if req.N <= 0 {
			return nil, errors.New("strata: indexed mode requires n > 0")
		}
		res, err = s.Indexed(ctx, req.N, seed)
	case ModeDaily:
		if req.PerDay <= 0 {
			return nil, errors.New("strata: daily mode requires per_day > 0")
		}
		res, err = s.Daily(ctx, req.PerDay, seed)
	case ModeFiltered:
		if req.Filter == nil {
			return nil, errors.New("strata: filtered mode requires a filter")
		}
		if req.StratifyColumn == "" && req.N <= 0 {
			return nil, errors.New("strata: filtered mode requires n > 0")
		}
		if req.StratifyColumn != "" && req.NPerGroup <= 0 {
			return nil, errors.New("strata: stratified mode requires n_per_group > 0")
		}
		res, err = s.Filtered(ctx, FilteredRequest{
			Filter:         req.Filter,
			N:              req.N,
			Seed:           seed,
			StratifyColumn: req.StratifyColumn,
			NPerGroup:      req.NPerGroup,
		})
	default:
		return nil, fmt.Errorf("strata: unknown sampling mode %q", req.Mode)
	}
	if err != nil {
		return nil, err
	}

	if len(req.Columns) > 0 {
		schema, err := projectSchema(res.Schema, req.Columns)
		if err != nil {
			return nil, err
		}
		res.Schema = schema
		res.Rows = projectRows(res.Rows, req.Columns)
	}

	s.log.Info("sample complete",
		"run_id", res.Provenance.RunID,
		"mode", res.Provenance.Mode,
		"seed", res.Provenance.Seed,
		"requested_n", res.Provenance.RequestedN,
		"returned_n", res.Provenance.ReturnedN,
	)
	return res, nil
}

// resolveSeed returns the request seed, or draws one from crypto/rand when
// the request carries none.
func resolveSeed(seed *int64) (int64, error) {
	if seed != nil {
		return *seed, nil
	}
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("strata: drawing seed: %w", err)
	}
	return int64(binary.BigEndian.Uint64(buf[:]) >> 1), nil
}

func (s *Sampler) newProvenance(mode Mode, seed, requested, returned int64) Provenance {
	return Provenance{
		RunID:      uuid.NewString(),
		Mode:       mode,
		Seed:       seed,
		RequestedN: requested,
		ReturnedN:  returned,
	}
}

// -----------------------------------------------------------------------------
// Partition extraction
// -----------------------------------------------------------------------------

// rowRef addresses one selected row as (partition, local offset).
type rowRef struct {
	part  int
	local int64
}

// sortRefs orders refs ascending by (partition, local), which equals
// ascending global index order.
func sortRefs(refs []rowRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].part != refs[j].part {
			return refs[i].part < refs[j].part
		}
		return refs[i].local < refs[j].local
	})
}

// extract loads the referenced rows, opening each implicated partition
// exactly once. Partitions are read on parallel workers; the output
// preserves the order of refs, which must be sorted. Peak memory is one
// partition's decode state per worker plus the selected rows.
func (s *Sampler) extract(ctx context.Context, refs []rowRef) ([]Row, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	// Split the sorted refs into per-partition runs.
	type run struct {
		part   int
		locals []int64
	}
	var runs []run
	for _, ref := range refs {
		if len(runs) == 0 || runs[len(runs)-1].part != ref.part {
			runs = append(runs, run{part: ref.part})
		}
		r := &runs[len(runs)-1]
		r.locals = append(r.locals, ref.local)
	}

	results := make([][]Row, len(runs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, r := range runs {
		g.Go(func() error {
			part := s.idx.parts[r.part]
			rows, err := s.readPartitionRows(gctx, part.Path, r.locals)
			if err != nil {
				return err
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(refs))
	for _, rows := range results {
		out = append(out, rows...)
	}
	return out, nil
}

func (s *Sampler) readPartitionRows(ctx context.Context, path string, locals []int64) ([]Row, error) {
	ra, err := s.idx.store.Open(ctx, path)
	if err != nil {
		return nil, &PartitionError{Path: path, Message: "open", Cause: err}
	}
	defer func() { _ = ra.Close() }()

	f, err := openPartition(ra, path)
	if err != nil {
		return nil, err
	}
	return readRowsAt(f, path, locals)
}
