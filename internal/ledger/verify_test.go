package ledger_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/milelog/milelog/internal/ledger"
	"github.com/milelog/milelog/internal/trip"
	"go.uber.org/zap"
)

func buildChain(t *testing.T) (*ledger.MemoryStore, *ledger.Verifier, uuid.UUID, []*ledger.Entry) {
	t.Helper()
	w, store := newWriter()
	userID := uuid.New()

	e1, err := w.Append(ctx, userID, ledger.Create{Record: sampleRecord()})
	if err != nil {
		t.Fatal(err)
	}
	e2, err := w.Append(ctx, userID, ledger.Amend{
		TripID: e1.TripID,
		Patch:  trip.Patch{DistanceKM: f64(300)},
		Reason: "corrected odometer",
	})
	if err != nil {
		t.Fatal(err)
	}
	e3, err := w.Append(ctx, userID, ledger.Void{TripID: e1.TripID, Reason: "duplicate entry"})
	if err != nil {
		t.Fatal(err)
	}

	return store, ledger.NewVerifier(store, zap.NewNop()), userID, []*ledger.Entry{e1, e2, e3}
}

func TestVerify_validChain(t *testing.T) {
	_, v, userID, _ := buildChain(t)

	res, err := v.Verify(ctx, userID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Errorf("expected valid chain, got %+v", res)
	}
	if res.Entries != 3 {
		t.Errorf("entries: got %d, want 3", res.Entries)
	}
}

func TestVerify_emptyChainTriviallyValid(t *testing.T) {
	store := ledger.NewMemoryStore()
	v := ledger.NewVerifier(store, zap.NewNop())

	res, err := v.Verify(ctx, uuid.New(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Errorf("empty chain must be valid, got %+v", res)
	}
}

func TestVerify_tamperedSnapshotDetected(t *testing.T) {
	_, v, userID, entries := buildChain(t)

	// Overwrite the stored snapshot of the amend entry without recomputing
	// its hash, as a direct database edit would.
	entries[1].Snapshot.DistanceKM = 99

	res, err := v.Verify(ctx, userID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("tampered chain reported valid")
	}
	if res.BrokenAt == nil || *res.BrokenAt != 2 {
		t.Errorf("broken at: got %v, want seq 2", res.BrokenAt)
	}
	if res.Expected == res.Actual {
		t.Error("expected and actual hashes should differ at the break point")
	}
}

func TestVerify_tamperedReasonDetected(t *testing.T) {
	_, v, userID, entries := buildChain(t)

	entries[2].Reason = "rewritten justification"

	res, err := v.Verify(ctx, userID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.BrokenAt == nil || *res.BrokenAt != 3 {
		t.Errorf("expected break at seq 3, got %+v", res)
	}
}

func TestVerify_rangeStartsMidChain(t *testing.T) {
	_, v, userID, _ := buildChain(t)

	res, err := v.Verify(ctx, userID, &ledger.SeqRange{From: 2, To: 3})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid {
		t.Errorf("mid-chain range should verify, got %+v", res)
	}
	if res.Entries != 2 {
		t.Errorf("entries: got %d, want 2", res.Entries)
	}
}

func TestVerify_tamperOutsideRangeNotReported(t *testing.T) {
	_, v, userID, entries := buildChain(t)

	entries[0].Snapshot.Origin = "Elsewhere"

	res, err := v.Verify(ctx, userID, &ledger.SeqRange{From: 2, To: 3})
	if err != nil {
		t.Fatal(err)
	}
	// The range is seeded from entry 2's stored PrevHash; corruption before
	// the range is caught by a full verify, not a restricted one.
	if !res.Valid {
		t.Errorf("restricted range unexpectedly invalid: %+v", res)
	}

	full, err := v.Verify(ctx, userID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if full.Valid || full.BrokenAt == nil || *full.BrokenAt != 1 {
		t.Errorf("full verify should break at seq 1, got %+v", full)
	}
}

func TestVerifyHashRange_pinsBoundaries(t *testing.T) {
	_, v, userID, entries := buildChain(t)

	res, err := v.VerifyHashRange(ctx, userID, entries[0].Hash, entries[2].Hash)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Entries != 3 {
		t.Errorf("hash range verify: got %+v", res)
	}
}

func TestVerifyHashRange_missingPinnedHashIsCorruption(t *testing.T) {
	_, v, userID, entries := buildChain(t)

	res, err := v.VerifyHashRange(ctx, userID, entries[0].Hash, "deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Error("missing pinned hash must not verify")
	}
	if res.Expected != "deadbeef" {
		t.Errorf("expected the missing hash to be reported, got %+v", res)
	}
}
