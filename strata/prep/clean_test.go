package prep

import (
	"bytes"
	"context"
	"testing"

	"github.com/substrat-io/strata/strata"
)

func putPartition(t *testing.T, store strata.Store, key string, schema strata.Schema, rows []strata.Row) {
	t.Helper()
	var buf bytes.Buffer
	if err := strata.EncodeParquet(&buf, schema, rows); err != nil {
		t.Fatalf("EncodeParquet: %v", err)
	}
	if err := store.Put(context.Background(), key, bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Put %s: %v", key, err)
	}
}

func TestCleanDropsNullRows(t *testing.T) {
	store := strata.NewMemory()
	schema := testSchema()

	putPartition(t, store, "20230101.export.parquet", schema, []strata.Row{
		{"Day": int64(20230101), "Actor1Code": "USA", "GoldsteinScale": 2.5},
		{"Day": int64(20230101), "Actor1Code": nil, "GoldsteinScale": 1.0},
		{"Day": int64(20230101), "Actor1Code": "BRA", "GoldsteinScale": nil},
		{"Day": int64(20230101), "Actor1Code": "FRA", "GoldsteinScale": -1.0},
	})

	cleaner := NewCleaner(store, store, []string{"Actor1Code", "GoldsteinScale"})
	report, err := cleaner.CleanAll(context.Background(), "")
	if err != nil {
		t.Fatalf("CleanAll: %v", err)
	}

	if report.FilesProcessed != 1 {
		t.Fatalf("FilesProcessed = %d, want 1", report.FilesProcessed)
	}
	if report.RowsBefore != 4 || report.RowsAfter != 2 {
		t.Errorf("rows = %d -> %d, want 4 -> 2", report.RowsBefore, report.RowsAfter)
	}
	if report.Retention() != 0.5 {
		t.Errorf("Retention = %v, want 0.5", report.Retention())
	}

	_, rows := readPartition(t, store, "20230101.export_filtered.parquet")
	if len(rows) != 2 {
		t.Fatalf("cleaned partition has %d rows, want 2", len(rows))
	}
	for _, row := range rows {
		if row["Actor1Code"] == nil || row["GoldsteinScale"] == nil {
			t.Errorf("null survived cleaning: %v", row)
		}
	}
}

func TestCleanSkipsAlreadyCleanedOutputs(t *testing.T) {
	store := strata.NewMemory()
	schema := testSchema()

	putPartition(t, store, "20230101.export.parquet", schema, []strata.Row{
		{"Day": int64(20230101), "Actor1Code": "USA", "GoldsteinScale": 2.5},
	})

	cleaner := NewCleaner(store, store, []string{"Actor1Code"})
	if _, err := cleaner.CleanAll(context.Background(), ""); err != nil {
		t.Fatalf("first CleanAll: %v", err)
	}

	// Second run sees both the source and its _filtered output. The output
	// must not be re-cleaned, and the existing output must be skipped.
	report, err := cleaner.CleanAll(context.Background(), "")
	if err != nil {
		t.Fatalf("second CleanAll: %v", err)
	}
	if report.FilesProcessed != 0 {
		t.Errorf("FilesProcessed = %d, want 0", report.FilesProcessed)
	}
	if report.FilesSkipped != 1 {
		t.Errorf("FilesSkipped = %d, want 1", report.FilesSkipped)
	}
}

func TestCleanMissingColumns(t *testing.T) {
	store := strata.NewMemory()
	schema := testSchema()

	putPartition(t, store, "20230101.export.parquet", schema, []strata.Row{
		{"Day": int64(20230101), "Actor1Code": nil, "GoldsteinScale": 2.5},
		{"Day": int64(20230102), "Actor1Code": "USA", "GoldsteinScale": 1.0},
	})

	// One required column exists, one does not. The missing one is ignored.
	cleaner := NewCleaner(store, store, []string{"Actor1Code", "NoSuchColumn"})
	report, err := cleaner.CleanAll(context.Background(), "")
	if err != nil {
		t.Fatalf("CleanAll: %v", err)
	}
	if report.RowsAfter != 1 {
		t.Errorf("RowsAfter = %d, want 1", report.RowsAfter)
	}
}

func TestCleanAllColumnsMissingSkipsPartition(t *testing.T) {
	store := strata.NewMemory()
	schema := testSchema()

	putPartition(t, store, "20230101.export.parquet", schema, []strata.Row{
		{"Day": int64(20230101), "Actor1Code": "USA", "GoldsteinScale": 2.5},
	})

	cleaner := NewCleaner(store, store, []string{"NoSuchColumn"})
	report, err := cleaner.CleanAll(context.Background(), "")
	if err != nil {
		t.Fatalf("CleanAll: %v", err)
	}
	if report.FilesProcessed != 0 || report.FilesSkipped != 1 {
		t.Errorf("processed %d, skipped %d; want 0, 1",
			report.FilesProcessed, report.FilesSkipped)
	}

	exists, err := store.Exists(context.Background(), "20230101.export_filtered.parquet")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("partition without required columns must not produce output")
	}
}

func TestCleanNoColumnsConfigured(t *testing.T) {
	store := strata.NewMemory()
	cleaner := NewCleaner(store, store, nil)
	if _, err := cleaner.CleanAll(context.Background(), ""); err == nil {
		t.Error("expected error for empty column list")
	}
}
