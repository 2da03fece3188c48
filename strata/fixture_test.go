package strata

import (
	"bytes"
	"context"
	"testing"
)

// Shared fixtures for index, sampler, and assembler tests. Partitions are
// written through the public encoder into a memory store, the same path
// production data takes.

func sampleTestSchema() Schema {
	return Schema{Columns: []Column{
		{Name: "EventID", Kind: KindInt64},
		{Name: "Day", Kind: KindInt64, Nullable: true},
		{Name: "Actor1CountryCode", Kind: KindString, Nullable: true},
		{Name: "GoldsteinScale", Kind: KindFloat64, Nullable: true},
		{Name: "NumArticles", Kind: KindInt64, Nullable: true},
	}}
}

func writeTestPartition(t *testing.T, store Store, key string, rows []Row) {
	t.Helper()
	var buf bytes.Buffer
	if err := EncodeParquet(&buf, sampleTestSchema(), rows); err != nil {
		t.Fatalf("EncodeParquet %s: %v", key, err)
	}
	if err := store.Put(context.Background(), key, bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Put %s: %v", key, err)
	}
}

// fixtureRows builds n rows for one day. Event IDs start at base and
// increase by one, so they are globally unique when bases do not overlap.
func fixtureRows(base, day int64, n int, country string) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			"EventID":           base + int64(i),
			"Day":               day,
			"Actor1CountryCode": country,
			"GoldsteinScale":    float64(i%21) - 10,
			"NumArticles":       int64(i % 50),
		}
	}
	return rows
}

// buildTestIndex writes three day-stemmed partitions (two days, 60 rows
// total) and indexes them.
func buildTestIndex(t *testing.T) (*Index, Store) {
	t.Helper()
	store := NewMemory()
	writeTestPartition(t, store, "20230101.export.parquet", fixtureRows(0, 20230101, 20, "USA"))
	writeTestPartition(t, store, "20230101.translation.parquet", fixtureRows(100, 20230101, 10, "BRA"))
	writeTestPartition(t, store, "20230102.export.parquet", fixtureRows(200, 20230102, 30, "CHN"))

	idx, err := BuildIndex(context.Background(), store, "")
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	return idx, store
}

func eventIDs(rows []Row) map[int64]bool {
	ids := make(map[int64]bool, len(rows))
	for _, r := range rows {
		ids[r["EventID"].(int64)] = true
	}
	return ids
}
