package strata

import "context"

// Indexed draws n rows uniformly without replacement across the whole
// dataset. Global indices come from a Floyd draw over [0, TotalRows), so the
// full index space is never materialized; each implicated partition is
// opened exactly once. Output rows are in ascending global index order.
//
// When n meets or exceeds the total row count the result is the full
// dataset and the provenance reports the clamp via ReturnedN < RequestedN.
func (s *Sampler) Indexed(ctx context.Context, n, seed int64) (*Result, error) {
	total := s.idx.TotalRows()

	draw := n
	if draw > total {
		draw = total
	}

	globals := drawWithout(newStream(seed, streamGlobal, ""), draw, total)
	s.log.Debug("indexed draw complete", "requested", n, "drawn", len(globals), "total_rows", total)

	// Ascending globals resolve to refs sorted by (partition, local); walk
	// the partition table with a single cursor instead of per-index search.
	refs := make([]rowRef, 0, len(globals))
	part := 0
	for _, g := range globals {
		for g >= s.idx.starts[part]+s.idx.parts[part].Rows {
			part++
		}
		refs = append(refs, rowRef{part: part, local: g - s.idx.starts[part]})
	}

	rows, err := s.extract(ctx, refs)
	if err != nil {
		return nil, err
	}

	return &Result{
		Rows:       rows,
		Schema:     s.idx.schema,
		Provenance: s.newProvenance(ModeIndexed, seed, n, int64(len(rows))),
	}, nil
}
