package ledger_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/milelog/milelog/internal/ledger"
	"go.uber.org/zap"
)

func appendBatchMembers(t *testing.T, w *ledger.Writer, userID, batchID uuid.UUID, n int) []*ledger.Entry {
	t.Helper()
	var entries []*ledger.Entry
	for i := 0; i < n; i++ {
		rec := sampleRecord()
		rec.Destination = fmt.Sprintf("Stop %d", i)
		e, err := w.Append(ctx, userID, ledger.Create{
			Record:  rec,
			Source:  ledger.SourceCSVImport,
			BatchID: &batchID,
		})
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestRecord_batchSummaryMatchesMembers(t *testing.T) {
	w, store := newWriter()
	userID := uuid.New()
	batchID := uuid.New()
	entries := appendBatchMembers(t, w, userID, batchID, 5)

	rec := ledger.NewRecorder(store, store, zap.NewNop())
	b, err := rec.Record(ctx, userID, batchID, ledger.SourceCSVImport, 5, nil)
	if err != nil {
		t.Fatal(err)
	}

	if b.EntryCount != 5 {
		t.Errorf("entry count: got %d, want 5", b.EntryCount)
	}
	if b.Partial {
		t.Error("complete batch flagged partial")
	}
	if b.FirstEntryHash != entries[0].Hash {
		t.Errorf("first hash: got %q, want %q", b.FirstEntryHash, entries[0].Hash)
	}
	if b.LastEntryHash != entries[4].Hash {
		t.Errorf("last hash: got %q, want %q", b.LastEntryHash, entries[4].Hash)
	}

	count, err := store.CountByBatch(ctx, userID, batchID)
	if err != nil {
		t.Fatal(err)
	}
	if count != b.EntryCount {
		t.Errorf("persisted member count %d != recorded %d", count, b.EntryCount)
	}
}

func TestRecord_countMismatchFlagsPartial(t *testing.T) {
	w, store := newWriter()
	userID := uuid.New()
	batchID := uuid.New()
	appendBatchMembers(t, w, userID, batchID, 3)

	rec := ledger.NewRecorder(store, store, zap.NewNop())
	b, err := rec.Record(ctx, userID, batchID, ledger.SourceCSVImport, 5, nil)

	var mismatch *ledger.BatchCountMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected BatchCountMismatchError, got %v", err)
	}
	if mismatch.Expected != 5 || mismatch.Actual != 3 {
		t.Errorf("mismatch: %+v", mismatch)
	}
	if b == nil || !b.Partial {
		t.Fatal("batch must still be recorded, flagged partial")
	}
	if b.EntryCount != 3 {
		t.Errorf("entry count must reflect persisted members, got %d", b.EntryCount)
	}

	// The partial batch row is durably recorded despite the mismatch.
	stored, err := store.BatchByID(ctx, userID, batchID)
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil || !stored.Partial {
		t.Errorf("stored batch: %+v", stored)
	}
}
