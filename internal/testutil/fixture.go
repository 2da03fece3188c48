// Package testutil provides helpers for examples and tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/substrat-io/strata/strata"
)

// RemoveAll removes the path and any children. Errors are ignored.
// Use for defer cleanup in examples and tests.
//
// Usage:
//
//	defer testutil.RemoveAll(tmpDir)
func RemoveAll(path string) { _ = os.RemoveAll(path) }

// EventSchema is a compact event schema used by examples: a unique event
// id, a YYYYMMDD day, two actor country codes, a tone score, and an
// article count.
func EventSchema() strata.Schema {
	return strata.Schema{Columns: []strata.Column{
		{Name: "EventID", Kind: strata.KindInt64},
		{Name: "Day", Kind: strata.KindInt64},
		{Name: "Actor1CountryCode", Kind: strata.KindString, Nullable: true},
		{Name: "Actor2CountryCode", Kind: strata.KindString, Nullable: true},
		{Name: "GoldsteinScale", Kind: strata.KindFloat64, Nullable: true},
		{Name: "NumArticles", Kind: strata.KindInt64, Nullable: true},
	}}
}

var countries = []string{"USA", "BRA", "CHN", "FRA", "IND", "RUS"}

// SeedDataset writes one day-stemmed partition per day into the store,
// each with rowsPerDay synthetic events. Day keys count up from 20230101.
// The generator is fixed-seed so repeated runs produce the same dataset.
func SeedDataset(ctx context.Context, store strata.Store, days, rowsPerDay int) error {
	schema := EventSchema()
	r := rand.New(rand.NewPCG(11, 7))

	id := int64(1)
	for d := 0; d < days; d++ {
		day := int64(20230101 + d)
		rows := make([]strata.Row, rowsPerDay)
		for i := range rows {
			rows[i] = strata.Row{
				"EventID":           id,
				"Day":               day,
				"Actor1CountryCode": countries[r.IntN(len(countries))],
				"Actor2CountryCode": countries[r.IntN(len(countries))],
				"GoldsteinScale":    float64(r.IntN(201)-100) / 10,
				"NumArticles":       int64(r.IntN(80)),
			}
			id++
		}

		var buf bytes.Buffer
		if err := strata.EncodeParquet(&buf, schema, rows); err != nil {
			return err
		}
		key := fmt.Sprintf("%d.export.parquet", day)
		if err := store.Put(ctx, key, bytes.NewReader(buf.Bytes())); err != nil {
			return err
		}
	}
	return nil
}
