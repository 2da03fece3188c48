package strata

import (
	"context"
	"errors"
	"testing"
)

func seedPtr(v int64) *int64 { return &v }

// -----------------------------------------------------------------------------
// Indexed mode
// -----------------------------------------------------------------------------

func TestIndexedSampleBasics(t *testing.T) {
	idx, _ := buildTestIndex(t)
	s := NewSampler(idx)

	res, err := s.Sample(context.Background(), Request{Mode: ModeIndexed, N: 25, Seed: seedPtr(42)})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	if len(res.Rows) != 25 {
		t.Fatalf("got %d rows, want 25", len(res.Rows))
	}
	if got := len(eventIDs(res.Rows)); got != 25 {
		t.Errorf("%d distinct rows out of 25, duplicates drawn", got)
	}
	if res.Provenance.Mode != ModeIndexed {
		t.Errorf("Mode = %v", res.Provenance.Mode)
	}
	if res.Provenance.Seed != 42 {
		t.Errorf("Seed = %d, want 42", res.Provenance.Seed)
	}
	if res.Provenance.RequestedN != 25 || res.Provenance.ReturnedN != 25 {
		t.Errorf("provenance counts = %d / %d",
			res.Provenance.RequestedN, res.Provenance.ReturnedN)
	}
	if res.Provenance.RunID == "" {
		t.Error("RunID is empty")
	}
}

func TestIndexedSampleDeterministic(t *testing.T) {
	idx, _ := buildTestIndex(t)
	s := NewSampler(idx)
	ctx := context.Background()

	a, err := s.Sample(ctx, Request{Mode: ModeIndexed, N: 20, Seed: seedPtr(7)})
	if err != nil {
		t.Fatalf("first Sample: %v", err)
	}
	b, err := s.Sample(ctx, Request{Mode: ModeIndexed, N: 20, Seed: seedPtr(7)})
	if err != nil {
		t.Fatalf("second Sample: %v", err)
	}

	if len(a.Rows) != len(b.Rows) {
		t.Fatalf("row counts differ: %d != %d", len(a.Rows), len(b.Rows))
	}
	for i := range a.Rows {
		if a.Rows[i]["EventID"] != b.Rows[i]["EventID"] {
			t.Errorf("row %d differs: %v != %v", i, a.Rows[i]["EventID"], b.Rows[i]["EventID"])
		}
	}

	// Run IDs are per-run, not per-seed.
	if a.Provenance.RunID == b.Provenance.RunID {
		t.Error("two runs share a RunID")
	}

	c, err := s.Sample(ctx, Request{Mode: ModeIndexed, N: 20, Seed: seedPtr(8)})
	if err != nil {
		t.Fatalf("third Sample: %v", err)
	}
	same := true
	for i := range a.Rows {
		if a.Rows[i]["EventID"] != c.Rows[i]["EventID"] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical samples")
	}
}

func TestIndexedSampleClamps(t *testing.T) {
	idx, _ := buildTestIndex(t)
	s := NewSampler(idx)

	res, err := s.Sample(context.Background(), Request{Mode: ModeIndexed, N: 500, Seed: seedPtr(1)})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(res.Rows) != 60 {
		t.Fatalf("got %d rows, want the full 60", len(res.Rows))
	}
	if res.Provenance.RequestedN != 500 || res.Provenance.ReturnedN != 60 {
		t.Errorf("provenance counts = %d / %d, want 500 / 60",
			res.Provenance.RequestedN, res.Provenance.ReturnedN)
	}
	if got := len(eventIDs(res.Rows)); got != 60 {
		t.Errorf("%d distinct rows, want 60", got)
	}
}

func TestSampleDrawsSeedWhenOmitted(t *testing.T) {
	idx, _ := buildTestIndex(t)
	s := NewSampler(idx)

	res, err := s.Sample(context.Background(), Request{Mode: ModeIndexed, N: 5})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if res.Provenance.Seed < 0 {
		t.Errorf("drawn seed is negative: %d", res.Provenance.Seed)
	}

	// The reported seed must reproduce the run.
	again, err := s.Sample(context.Background(), Request{
		Mode: ModeIndexed, N: 5, Seed: seedPtr(res.Provenance.Seed),
	})
	if err != nil {
		t.Fatalf("replay Sample: %v", err)
	}
	for i := range res.Rows {
		if res.Rows[i]["EventID"] != again.Rows[i]["EventID"] {
			t.Errorf("row %d not reproduced by reported seed", i)
		}
	}
}

// -----------------------------------------------------------------------------
// Daily mode
// -----------------------------------------------------------------------------

func TestDailySampleQuotaPerDay(t *testing.T) {
	idx, _ := buildTestIndex(t)
	s := NewSampler(idx)

	res, err := s.Sample(context.Background(), Request{Mode: ModeDaily, PerDay: 5, Seed: seedPtr(42)})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	perDay := make(map[int64]int)
	for _, row := range res.Rows {
		perDay[row["Day"].(int64)]++
	}
	if perDay[20230101] != 5 || perDay[20230102] != 5 {
		t.Errorf("per-day counts = %v, want 5 each", perDay)
	}
	if res.Provenance.RequestedN != 10 || res.Provenance.ReturnedN != 10 {
		t.Errorf("provenance counts = %d / %d",
			res.Provenance.RequestedN, res.Provenance.ReturnedN)
	}
}

func TestDailySampleShortDayNotBackfilled(t *testing.T) {
	store := NewMemory()
	writeTestPartition(t, store, "20230101.export.parquet", fixtureRows(0, 20230101, 30, "USA"))
	writeTestPartition(t, store, "20230102.export.parquet", fixtureRows(100, 20230102, 3, "BRA"))

	idx, err := BuildIndex(context.Background(), store, "")
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	s := NewSampler(idx)

	res, err := s.Sample(context.Background(), Request{Mode: ModeDaily, PerDay: 10, Seed: seedPtr(1)})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	perDay := make(map[int64]int)
	for _, row := range res.Rows {
		perDay[row["Day"].(int64)]++
	}
	if perDay[20230101] != 10 {
		t.Errorf("full day drew %d rows, want 10", perDay[20230101])
	}
	if perDay[20230102] != 3 {
		t.Errorf("short day drew %d rows, want all 3", perDay[20230102])
	}
	if res.Provenance.RequestedN != 20 || res.Provenance.ReturnedN != 13 {
		t.Errorf("provenance counts = %d / %d, want 20 / 13",
			res.Provenance.RequestedN, res.Provenance.ReturnedN)
	}
}

func TestDailySampleDayIsolation(t *testing.T) {
	// A day's selection depends only on the seed, the day key, and that
	// day's rows. Adding another day must not disturb it.
	ctx := context.Background()

	storeA := NewMemory()
	writeTestPartition(t, storeA, "20230101.export.parquet", fixtureRows(0, 20230101, 20, "USA"))
	idxA, err := BuildIndex(ctx, storeA, "")
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	storeB := NewMemory()
	writeTestPartition(t, storeB, "20230101.export.parquet", fixtureRows(0, 20230101, 20, "USA"))
	writeTestPartition(t, storeB, "20230102.export.parquet", fixtureRows(100, 20230102, 20, "BRA"))
	idxB, err := BuildIndex(ctx, storeB, "")
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	resA, err := NewSampler(idxA).Sample(ctx, Request{Mode: ModeDaily, PerDay: 5, Seed: seedPtr(42)})
	if err != nil {
		t.Fatalf("Sample A: %v", err)
	}
	resB, err := NewSampler(idxB).Sample(ctx, Request{Mode: ModeDaily, PerDay: 5, Seed: seedPtr(42)})
	if err != nil {
		t.Fatalf("Sample B: %v", err)
	}

	idsA := eventIDs(resA.Rows)
	var day1B []Row
	for _, row := range resB.Rows {
		if row["Day"] == int64(20230101) {
			day1B = append(day1B, row)
		}
	}
	if len(day1B) != len(idsA) {
		t.Fatalf("day counts differ: %d != %d", len(day1B), len(idsA))
	}
	for _, row := range day1B {
		if !idsA[row["EventID"].(int64)] {
			t.Errorf("event %v selected only with the extra day present", row["EventID"])
		}
	}
}

func TestDailySampleMissingDayKey(t *testing.T) {
	store := NewMemory()
	writeTestPartition(t, store, "events.parquet", fixtureRows(0, 20230101, 10, "USA"))
	idx, err := BuildIndex(context.Background(), store, "")
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	_, err = NewSampler(idx).Sample(context.Background(),
		Request{Mode: ModeDaily, PerDay: 5, Seed: seedPtr(1)})
	if !errors.Is(err, ErrDayKey) {
		t.Fatalf("got %v, want ErrDayKey", err)
	}
}

// -----------------------------------------------------------------------------
// Filtered mode
// -----------------------------------------------------------------------------

func TestFilteredSampleMatchesOnly(t *testing.T) {
	idx, _ := buildTestIndex(t)
	s := NewSampler(idx)

	res, err := s.Sample(context.Background(), Request{
		Mode:   ModeFiltered,
		N:      10,
		Seed:   seedPtr(42),
		Filter: map[string]any{"Actor1CountryCode": "USA"},
	})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	if len(res.Rows) != 10 {
		t.Fatalf("got %d rows, want 10", len(res.Rows))
	}
	for i, row := range res.Rows {
		if row["Actor1CountryCode"] != "USA" {
			t.Errorf("row %d fails the filter: %v", i, row["Actor1CountryCode"])
		}
	}
	if got := len(eventIDs(res.Rows)); got != 10 {
		t.Errorf("%d distinct rows out of 10", got)
	}
}

func TestFilteredSampleDeterministic(t *testing.T) {
	idx, _ := buildTestIndex(t)
	s := NewSampler(idx)
	ctx := context.Background()

	req := Request{
		Mode:   ModeFiltered,
		N:      8,
		Seed:   seedPtr(9),
		Filter: map[string]any{"GoldsteinScale": []any{float64(-5), float64(5)}},
	}
	a, err := s.Sample(ctx, req)
	if err != nil {
		t.Fatalf("first Sample: %v", err)
	}
	b, err := s.Sample(ctx, req)
	if err != nil {
		t.Fatalf("second Sample: %v", err)
	}
	if len(a.Rows) != len(b.Rows) {
		t.Fatalf("row counts differ: %d != %d", len(a.Rows), len(b.Rows))
	}
	for i := range a.Rows {
		if a.Rows[i]["EventID"] != b.Rows[i]["EventID"] {
			t.Errorf("row %d differs between runs", i)
		}
	}
}

func TestFilteredSampleShortfall(t *testing.T) {
	idx, _ := buildTestIndex(t)
	s := NewSampler(idx)

	// Only 10 BRA rows exist.
	res, err := s.Sample(context.Background(), Request{
		Mode:   ModeFiltered,
		N:      100,
		Seed:   seedPtr(1),
		Filter: map[string]any{"Actor1CountryCode": "BRA"},
	})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(res.Rows) != 10 {
		t.Fatalf("got %d rows, want all 10 matches", len(res.Rows))
	}
	if res.Provenance.RequestedN != 100 || res.Provenance.ReturnedN != 10 {
		t.Errorf("provenance counts = %d / %d, want 100 / 10",
			res.Provenance.RequestedN, res.Provenance.ReturnedN)
	}
}

func TestFilteredSampleEmptyFilterMatchesAll(t *testing.T) {
	idx, _ := buildTestIndex(t)
	s := NewSampler(idx)

	res, err := s.Sample(context.Background(), Request{
		Mode:   ModeFiltered,
		N:      60,
		Seed:   seedPtr(1),
		Filter: map[string]any{},
	})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(res.Rows) != 60 {
		t.Errorf("got %d rows, want 60", len(res.Rows))
	}
}

func TestFilteredSampleNoMatches(t *testing.T) {
	idx, _ := buildTestIndex(t)
	s := NewSampler(idx)

	res, err := s.Sample(context.Background(), Request{
		Mode:   ModeFiltered,
		N:      10,
		Seed:   seedPtr(1),
		Filter: map[string]any{"Actor1CountryCode": "ZZZ"},
	})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if len(res.Rows) != 0 {
		t.Errorf("got %d rows, want 0", len(res.Rows))
	}
	if res.Provenance.ReturnedN != 0 {
		t.Errorf("ReturnedN = %d", res.Provenance.ReturnedN)
	}
}

func TestStratifiedSampleQuotas(t *testing.T) {
	idx, _ := buildTestIndex(t)
	s := NewSampler(idx)

	// Groups: USA has 20 matches, BRA 10, CHN 30. Quota 15 per group.
	res, err := s.Sample(context.Background(), Request{
		Mode:           ModeFiltered,
		Seed:           seedPtr(42),
		Filter:         map[string]any{},
		StratifyColumn: "Actor1CountryCode",
		NPerGroup:      15,
	})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	perGroup := make(map[string]int)
	for _, row := range res.Rows {
		perGroup[row["Actor1CountryCode"].(string)]++
	}
	if perGroup["USA"] != 15 {
		t.Errorf("USA drew %d, want 15", perGroup["USA"])
	}
	if perGroup["BRA"] != 10 {
		t.Errorf("BRA drew %d, want all 10 (no borrowing)", perGroup["BRA"])
	}
	if perGroup["CHN"] != 15 {
		t.Errorf("CHN drew %d, want 15", perGroup["CHN"])
	}
	if res.Provenance.RequestedN != 45 || res.Provenance.ReturnedN != 40 {
		t.Errorf("provenance counts = %d / %d, want 45 / 40",
			res.Provenance.RequestedN, res.Provenance.ReturnedN)
	}
}

func TestStratifiedSampleUnknownColumn(t *testing.T) {
	idx, _ := buildTestIndex(t)
	s := NewSampler(idx)

	_, err := s.Sample(context.Background(), Request{
		Mode:           ModeFiltered,
		Seed:           seedPtr(1),
		Filter:         map[string]any{},
		StratifyColumn: "NoSuchColumn",
		NPerGroup:      5,
	})
	if !errors.Is(err, ErrUnknownColumn) {
		t.Fatalf("got %v, want ErrUnknownColumn", err)
	}
}

// -----------------------------------------------------------------------------
// Request validation and projection
// -----------------------------------------------------------------------------

func TestSampleRequestValidation(t *testing.T) {
	idx, _ := buildTestIndex(t)
	s := NewSampler(idx)
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
	}{
		{"unknown mode", Request{Mode: "bogus", N: 5}},
		{"indexed n zero", Request{Mode: ModeIndexed}},
		{"daily per_day zero", Request{Mode: ModeDaily}},
		{"filtered nil filter", Request{Mode: ModeFiltered, N: 5}},
		{"filtered n zero", Request{Mode: ModeFiltered, Filter: map[string]any{}}},
		{"stratified quota zero", Request{Mode: ModeFiltered, Filter: map[string]any{}, StratifyColumn: "Day"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Sample(ctx, tc.req); err == nil {
				t.Error("expected error")
			}
		})
	}

	_, err := s.Sample(ctx, Request{Mode: ModeIndexed, N: 5, Columns: []string{"NoSuchColumn"}})
	if !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("got %v, want ErrUnknownColumn", err)
	}
}

func TestSampleProjectsRequestedColumns(t *testing.T) {
	idx, _ := buildTestIndex(t)
	s := NewSampler(idx)

	res, err := s.Sample(context.Background(), Request{
		Mode:    ModeIndexed,
		N:       5,
		Seed:    seedPtr(42),
		Columns: []string{"EventID", "Day"},
	})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	if got := res.Schema.Names(); len(got) != 2 || got[0] != "EventID" || got[1] != "Day" {
		t.Errorf("projected schema = %v", got)
	}
	for i, row := range res.Rows {
		if len(row) != 2 {
			t.Errorf("row %d has %d columns: %v", i, len(row), row)
		}
		if _, ok := row["Actor1CountryCode"]; ok {
			t.Errorf("row %d kept an unselected column", i)
		}
	}
}
