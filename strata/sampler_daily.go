package strata

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Daily draws up to perDay rows from each day of the dataset. Each day's
// draw uses a child stream keyed by (seed, day key), so days are mutually
// independent and reproducible regardless of processing order. A day with
// fewer rows than perDay contributes all of its rows; the shortfall is never
// padded from other days. Output is in day-key order, local order within
// each day.
func (s *Sampler) Daily(ctx context.Context, perDay, seed int64) (*Result, error) {
	groups, err := s.idx.DayGroups()
	if err != nil {
		return nil, err
	}

	results := make([][]Row, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, day := range groups {
		g.Go(func() error {
			rows, err := s.sampleDay(gctx, day, perDay, seed)
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

	var rows []Row
	for _, dayRows := range results {
		rows = append(rows, dayRows...)
	}

	return &Result{
		Rows:       rows,
		Schema:     s.idx.schema,
		Provenance: s.newProvenance(ModeDaily, seed, perDay*int64(len(groups)), int64(len(rows))),
	}, nil
}

// sampleDay draws from one day's concatenated row space. The day's
// partitions form a local index space [0, day.Rows); drawn offsets map back
// to (partition, local) through per-day prefix sums.
func (s *Sampler) sampleDay(ctx context.Context, day DayGroup, perDay, seed int64) ([]Row, error) {
	draw := perDay
	if draw > day.Rows {
		draw = day.Rows
	}
	offsets := drawWithout(newStream(seed, streamDay, day.Key), draw, day.Rows)

	refs := make([]rowRef, 0, len(offsets))
	cursor := 0 // position in day.Parts
	start := int64(0)
	for _, off := range offsets {
		for off >= start+s.idx.parts[day.Parts[cursor]].Rows {
			start += s.idx.parts[day.Parts[cursor]].Rows
			cursor++
		}
		refs = append(refs, rowRef{part: day.Parts[cursor], local: off - start})
	}

	s.log.Debug("daily draw complete", "day", day.Key, "drawn", len(refs), "day_rows", day.Rows)

	// Days already run on parallel workers; read this day's partitions
	// sequentially so the pool bound holds.
	var rows []Row
	i := 0
	for i < len(refs) {
		j := i
		for j < len(refs) && refs[j].part == refs[i].part {
			j++
		}
		locals := make([]int64, 0, j-i)
		for _, ref := range refs[i:j] {
			locals = append(locals, ref.local)
		}
		partRows, err := s.readPartitionRows(ctx, s.idx.parts[refs[i].part].Path, locals)
		if err != nil {
			return nil, err
		}
		rows = append(rows, partRows...)
		i = j
	}
	return rows, nil
}
