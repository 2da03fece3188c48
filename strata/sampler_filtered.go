package strata

import (
	"context"
	"math/rand/v2"
	"sort"

	"golang.org/x/sync/errgroup"
)

// FilteredRequest describes one filtered (and optionally stratified)
// sampling run.
type FilteredRequest struct {
	// Filter is the nested filter document. An empty map matches all rows.
	Filter map[string]any

	// N is the number of rows to draw from the matches. Ignored when
	// StratifyColumn is set.
	N int64

	// Seed is the master seed.
	Seed int64

	// StratifyColumn groups matches by this column's value; NPerGroup rows
	// are drawn independently within each group.
	StratifyColumn string

	// NPerGroup is the per-group quota when stratifying.
	NPerGroup int64
}

// matchRef is one filter match: its row address plus the stratification
// group it belongs to (empty when not stratifying).
type matchRef struct {
	rowRef
	group string
}

// Filtered compiles the filter once, evaluates it against every partition,
// and draws from the matches.
//
// Unstratified, the match list is a virtual index space: if it holds no more
// than N rows the whole list is returned, otherwise N positions are drawn
// without replacement and mapped back to row addresses. Stratified, matches
// group by the stratify column's value and each group draws NPerGroup rows
// independently with a group-keyed child stream; a short group returns its
// full match count and is never backfilled from another group.
//
// Mask evaluation runs on parallel partition workers; only one partition's
// column data is resident per worker, plus the accumulated match list.
func (s *Sampler) Filtered(ctx context.Context, req FilteredRequest) (*Result, error) {
	node, err := Compile(req.Filter, s.idx.schema)
	if err != nil {
		return nil, err
	}

	needed := Columns(node)
	if req.StratifyColumn != "" {
		if !s.idx.schema.Has(req.StratifyColumn) {
			return nil, &UnknownColumnError{Column: req.StratifyColumn}
		}
		needed = appendMissing(needed, req.StratifyColumn)
	}

	matches, err := s.collectMatches(ctx, node, needed, req.StratifyColumn)
	if err != nil {
		return nil, err
	}
	s.log.Debug("filter scan complete", "matches", len(matches), "partitions", len(s.idx.parts))

	var refs []rowRef
	var requested int64
	if req.StratifyColumn == "" {
		requested = req.N
		refs = drawFromMatches(matches, req.N, newStream(req.Seed, streamGlobal, ""))
	} else {
		var groups int
		refs, groups = drawStratified(matches, req.NPerGroup, req.Seed)
		requested = req.NPerGroup * int64(groups)
	}
	sortRefs(refs)

	rows, err := s.extract(ctx, refs)
	if err != nil {
		return nil, err
	}

	return &Result{
		Rows:       rows,
		Schema:     s.idx.schema,
		Provenance: s.newProvenance(ModeFiltered, req.Seed, requested, int64(len(rows))),
	}, nil
}

// collectMatches evaluates the predicate against each partition and gathers
// matching row addresses. Partitions run on parallel workers into ordered
// slots, so the flattened match list is in ascending global order no matter
// which worker finishes first.
func (s *Sampler) collectMatches(ctx context.Context, node Node, needed []string, stratifyColumn string) ([]matchRef, error) {
	perPart := make([][]matchRef, len(s.idx.parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, part := range s.idx.parts {
		g.Go(func() error {
			matches, err := s.scanPartition(gctx, i, part, node, needed, stratifyColumn)
			if err != nil {
				return err
			}
			perPart[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []matchRef
	for _, matches := range perPart {
		out = append(out, matches...)
	}
	return out, nil
}

// scanPartition computes the boolean mask for one partition and records the
// matching offsets. The column view is discarded when the scan returns.
func (s *Sampler) scanPartition(ctx context.Context, partID int, part Partition, node Node, needed []string, stratifyColumn string) ([]matchRef, error) {
	ra, err := s.idx.store.Open(ctx, part.Path)
	if err != nil {
		return nil, &PartitionError{Path: part.Path, Message: "open", Cause: err}
	}
	defer func() { _ = ra.Close() }()

	f, err := openPartition(ra, part.Path)
	if err != nil {
		return nil, err
	}
	view, err := readColumnView(f, part.Path, needed)
	if err != nil {
		return nil, err
	}

	mask, err := node.Eval(view)
	if err != nil {
		return nil, err
	}

	var groupCells []any
	if stratifyColumn != "" {
		groupCells, err = view.Column(stratifyColumn)
		if err != nil {
			return nil, err
		}
	}

	var matches []matchRef
	for i, hit := range mask {
		if !hit {
			continue
		}
		m := matchRef{rowRef: rowRef{part: partID, local: int64(i)}}
		if groupCells != nil {
			m.group = canonicalKey(groupCells[i])
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// drawFromMatches treats the match list as a virtual index space of size
// len(matches) and draws n positions without replacement, or returns the
// whole list when it is small enough.
func drawFromMatches(matches []matchRef, n int64, r *rand.Rand) []rowRef {
	total := int64(len(matches))
	if total <= n {
		refs := make([]rowRef, 0, total)
		for _, m := range matches {
			refs = append(refs, m.rowRef)
		}
		return refs
	}
	refs := make([]rowRef, 0, n)
	for _, pos := range drawWithout(r, n, total) {
		refs = append(refs, matches[pos].rowRef)
	}
	return refs
}

// drawStratified draws NPerGroup positions independently within each group
// of the match list. Groups are keyed by the canonical string form of the
// stratify column's value; each group's stream derives from (seed, group),
// never from arrival order. Returns the refs and the group count.
func drawStratified(matches []matchRef, nPerGroup, seed int64) ([]rowRef, int) {
	groups := make(map[string][]matchRef)
	for _, m := range matches {
		groups[m.group] = append(groups[m.group], m)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var refs []rowRef
	for _, key := range keys {
		members := groups[key]
		refs = append(refs, drawFromMatches(members, nPerGroup, newStream(seed, streamGroup, key))...)
	}
	return refs, len(keys)
}

func appendMissing(cols []string, col string) []string {
	for _, c := range cols {
		if c == col {
			return cols
		}
	}
	return append(cols, col)
}
