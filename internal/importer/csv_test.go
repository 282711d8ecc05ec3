package importer_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/milelog/milelog/internal/importer"
	"github.com/milelog/milelog/internal/ledger"
	"go.uber.org/zap"
)

var ctx = context.Background()

const csvHeader = "date,origin,destination,distance_km,purpose,project_id,project_name\n"

func newImporter() (*importer.CSVImporter, *ledger.MemoryStore) {
	store := ledger.NewMemoryStore()
	logger := zap.NewNop()
	w := ledger.NewWriter(store, logger)
	rec := ledger.NewRecorder(store, store, logger)
	return importer.NewCSVImporter(w, rec, logger), store
}

func TestImport_fiveRows(t *testing.T) {
	imp, store := newImporter()
	userID := uuid.New()

	csv := csvHeader +
		"2026-03-02,Berlin,Hamburg,289.5,client visit,acme,ACME Rollout\n" +
		"2026-03-03,Hamburg,Berlin,289.5,return,acme,ACME Rollout\n" +
		"2026-03-05,Berlin,Leipzig,190,site survey,acme,ACME Rollout\n" +
		"2026-03-09,Berlin,Potsdam,35,kickoff,acme,ACME Rollout\n" +
		"2026-03-12,Berlin,Dresden,193,handover,acme,ACME Rollout\n"

	res, err := imp.Import(ctx, userID, strings.NewReader(csv), ledger.DocumentRef{ID: "doc-1", Name: "march.csv"})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Entries) != 5 {
		t.Fatalf("entries: got %d, want 5", len(res.Entries))
	}
	if res.Batch.EntryCount != 5 || res.Batch.Partial {
		t.Errorf("batch: %+v", res.Batch)
	}
	if res.Failed != nil {
		t.Errorf("unexpected row failure: %v", res.Failed)
	}

	for _, e := range res.Entries {
		if e.Source != ledger.SourceCSVImport {
			t.Errorf("entry source: got %q", e.Source)
		}
		if e.BatchID == nil || *e.BatchID != res.Batch.BatchID {
			t.Error("entry not correlated to batch")
		}
		if e.SourceDoc == nil || e.SourceDoc.ID != "doc-1" {
			t.Error("entry missing source document provenance")
		}
	}

	verifier := ledger.NewVerifier(store, zap.NewNop())
	v, err := verifier.Verify(ctx, userID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid {
		t.Errorf("imported chain invalid: %+v", v)
	}
}

func TestImport_malformedFileRejectedBeforeWrites(t *testing.T) {
	imp, store := newImporter()
	userID := uuid.New()

	csv := csvHeader + "2026-03-02,Berlin,Hamburg,not-a-number,client visit,acme,ACME\n"
	_, err := imp.Import(ctx, userID, strings.NewReader(csv), ledger.DocumentRef{ID: "doc-1"})

	var verr *ledger.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	entries, err := store.Entries(ctx, userID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("malformed file must not write anything, got %d entries", len(entries))
	}
}

func TestImport_missingHeaderColumn(t *testing.T) {
	imp, _ := newImporter()
	_, err := imp.Import(ctx, uuid.New(),
		strings.NewReader("date,origin\n2026-03-02,Berlin\n"),
		ledger.DocumentRef{ID: "doc-1"},
	)
	var verr *ledger.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestImport_invalidRowLeavesPartialBatch(t *testing.T) {
	imp, store := newImporter()
	userID := uuid.New()

	// Row 3 parses as CSV but fails payload validation at append time
	// (negative distance), so rows 1-2 stand and the batch is partial.
	csv := csvHeader +
		"2026-03-02,Berlin,Hamburg,289.5,client visit,acme,ACME\n" +
		"2026-03-03,Hamburg,Berlin,289.5,return,acme,ACME\n" +
		"2026-03-05,Berlin,Leipzig,-5,site survey,acme,ACME\n"

	res, err := imp.Import(ctx, userID, strings.NewReader(csv), ledger.DocumentRef{ID: "doc-1"})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(res.Entries))
	}
	if res.Failed == nil || res.Failed.Line != 4 {
		t.Errorf("failed row: %+v", res.Failed)
	}
	if !res.Batch.Partial || res.Batch.EntryCount != 2 {
		t.Errorf("batch: %+v", res.Batch)
	}

	// The two appended entries remain verifiable history.
	v, err := ledger.NewVerifier(store, zap.NewNop()).Verify(ctx, userID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid || v.Entries != 2 {
		t.Errorf("partial import history invalid: %+v", v)
	}
}
