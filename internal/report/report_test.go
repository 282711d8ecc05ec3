package report_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/milelog/milelog/internal/ledger"
	"github.com/milelog/milelog/internal/report"
	"github.com/milelog/milelog/internal/signing"
	"github.com/milelog/milelog/internal/trip"
	"github.com/milelog/milelog/internal/users"
	"go.uber.org/zap"
)

var ctx = context.Background()

type staticProfile struct{}

func (staticProfile) Snapshot(_ context.Context, id uuid.UUID) (*users.ProfileSnapshot, error) {
	return &users.ProfileSnapshot{
		UserID:      id.String(),
		Email:       "driver@example.com",
		DisplayName: "Test Driver",
		CapturedAt:  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

type fixture struct {
	writer    *ledger.Writer
	store     *ledger.MemoryStore
	generator *report.Generator
	reports   *report.MemoryStore
	signer    *signing.Keystore
	userID    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewMemoryStore()
	reports := report.NewMemoryStore()
	signer := signing.NewKeystore(t.TempDir())
	if err := signer.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	logger := zap.NewNop()
	return &fixture{
		writer:    ledger.NewWriter(store, logger),
		store:     store,
		generator: report.NewGenerator(store, ledger.NewVerifier(store, logger), reports, staticProfile{}, signer, logger),
		reports:   reports,
		signer:    signer,
		userID:    uuid.New(),
	}
}

func (f *fixture) createTrip(t *testing.T, date string, distance float64, projectID string) *ledger.Entry {
	t.Helper()
	e, err := f.writer.Append(ctx, f.userID, ledger.Create{Record: trip.Record{
		Date:        date,
		Origin:      "Berlin",
		Destination: "Hamburg",
		DistanceKM:  distance,
		Purpose:     "client visit",
		ProjectID:   projectID,
		ProjectName: "ACME Rollout",
	}})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestGenerate_signedAndPinned(t *testing.T) {
	f := newFixture(t)
	e1 := f.createTrip(t, "2026-03-02", 280, "acme")
	e2 := f.createTrip(t, "2026-03-10", 120, "acme")

	r, err := f.generator.Generate(ctx, f.userID, "acme", "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatal(err)
	}

	if len(r.Trips) != 2 {
		t.Fatalf("trips: got %d, want 2", len(r.Trips))
	}
	if r.TotalDistance != 400 {
		t.Errorf("total distance: got %v, want 400", r.TotalDistance)
	}
	if r.FirstTripHash != e1.Hash || r.LastTripHash != e2.Hash {
		t.Errorf("pinned range: got [%s, %s]", r.FirstTripHash, r.LastTripHash)
	}
	if !r.Verification.Valid {
		t.Errorf("verification: %+v", r.Verification)
	}

	payload, err := report.SignaturePayload(r)
	if err != nil {
		t.Fatal(err)
	}
	if !f.signer.VerifySignature(payload, r.Signature) {
		t.Error("signature not independently recomputable")
	}
}

func TestGenerate_excludesVoidedAndOutOfRange(t *testing.T) {
	f := newFixture(t)
	f.createTrip(t, "2026-03-02", 280, "acme")
	voided := f.createTrip(t, "2026-03-05", 99, "acme")
	f.createTrip(t, "2026-04-20", 50, "acme") // outside range
	f.createTrip(t, "2026-03-09", 75, "other")

	if _, err := f.writer.Append(ctx, f.userID, ledger.Void{TripID: voided.TripID, Reason: "duplicate entry"}); err != nil {
		t.Fatal(err)
	}

	r, err := f.generator.Generate(ctx, f.userID, "acme", "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Trips) != 1 {
		t.Fatalf("trips: got %d, want 1", len(r.Trips))
	}
	if r.Trips[0].Record.DistanceKM != 280 {
		t.Errorf("wrong trip included: %+v", r.Trips[0])
	}
}

func TestGenerate_amendedTripUsesCurrentState(t *testing.T) {
	f := newFixture(t)
	e := f.createTrip(t, "2026-03-02", 280, "acme")
	newDist := 300.0
	amended, err := f.writer.Append(ctx, f.userID, ledger.Amend{
		TripID: e.TripID,
		Patch:  trip.Patch{DistanceKM: &newDist},
		Reason: "corrected odometer",
	})
	if err != nil {
		t.Fatal(err)
	}

	r, err := f.generator.Generate(ctx, f.userID, "", "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatal(err)
	}
	if r.Trips[0].Record.DistanceKM != 300 {
		t.Errorf("report must carry the amended state, got %v", r.Trips[0].Record.DistanceKM)
	}
	if r.Trips[0].EntryHash != amended.Hash {
		t.Error("report must pin the current entry hash, not the create hash")
	}
}

func TestGenerate_noTrips(t *testing.T) {
	f := newFixture(t)
	_, err := f.generator.Generate(ctx, f.userID, "", "2026-03-01", "2026-03-31")
	if !errors.Is(err, report.ErrNoTrips) {
		t.Fatalf("expected ErrNoTrips, got %v", err)
	}
}

func TestGenerate_regenerationInsertsNewReport(t *testing.T) {
	f := newFixture(t)
	f.createTrip(t, "2026-03-02", 280, "acme")

	r1, err := f.generator.Generate(ctx, f.userID, "acme", "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatal(err)
	}
	r2, err := f.generator.Generate(ctx, f.userID, "acme", "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatal(err)
	}
	if r1.ID == r2.ID {
		t.Error("regeneration must create a new report")
	}

	all, err := f.reports.ListByUser(ctx, f.userID)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("stored reports: got %d, want 2", len(all))
	}
}

func TestAudit_cleanReport(t *testing.T) {
	f := newFixture(t)
	f.createTrip(t, "2026-03-02", 280, "acme")
	r, err := f.generator.Generate(ctx, f.userID, "acme", "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.generator.Audit(ctx, f.userID, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tampered {
		t.Errorf("clean report flagged tampered: %+v", res)
	}
	if !res.SignatureValid {
		t.Error("signature should verify")
	}
}

func TestAudit_detectsRetroactiveTampering(t *testing.T) {
	f := newFixture(t)
	f.createTrip(t, "2026-03-02", 280, "acme")
	f.createTrip(t, "2026-03-10", 120, "acme")
	r, err := f.generator.Generate(ctx, f.userID, "acme", "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatal(err)
	}

	// Alter an entry inside the pinned range after the report was issued,
	// as a direct database edit would.
	entries, err := f.store.Entries(ctx, f.userID, nil)
	if err != nil {
		t.Fatal(err)
	}
	entries[0].Snapshot.DistanceKM = 9999

	res, err := f.generator.Audit(ctx, f.userID, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Tampered {
		t.Fatal("tampered range not detected")
	}
	if res.CurrentVerification.Valid {
		t.Error("fresh verification should fail")
	}
	if res.StoredVerification.Valid != true {
		t.Error("stored verification was valid at issuance")
	}
	if !res.SignatureValid {
		t.Error("report row itself untouched, signature should still verify")
	}
}
