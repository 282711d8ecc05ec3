package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/milelog/milelog/internal/ledger"
	"github.com/milelog/milelog/internal/users"
	"go.uber.org/zap"
)

// ErrNoTrips is returned when no live trip falls within the requested
// period and project.
var ErrNoTrips = errors.New("no live trips in the requested range")

// ErrReportNotFound is returned when a report id does not exist for the
// user.
var ErrReportNotFound = errors.New("report not found")

// ProfileSource supplies the user profile snapshot embedded in a report.
// Satisfied by *users.UserService.
type ProfileSource interface {
	Snapshot(ctx context.Context, id uuid.UUID) (*users.ProfileSnapshot, error)
}

// Signer signs and re-checks report payloads. Satisfied by
// *signing.Keystore.
type Signer interface {
	Sign(data []byte) string
	VerifySignature(data []byte, signature string) bool
}

// Generator builds signed reports over the ledger.
type Generator struct {
	store    ledger.Store
	verifier *ledger.Verifier
	reports  Store
	profiles ProfileSource
	signer   Signer
	logger   *zap.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(store ledger.Store, verifier *ledger.Verifier, reports Store, profiles ProfileSource, signer Signer, logger *zap.Logger) *Generator {
	return &Generator{
		store:    store,
		verifier: verifier,
		reports:  reports,
		profiles: profiles,
		signer:   signer,
		logger:   logger,
	}
}

// Generate selects the live trips whose current state falls in the period
// (and project, when given), pins the chain range covering them, verifies
// that range, signs the result, and persists it as a new report row.
//
// A report whose embedded verification is invalid is still persisted — the
// corruption is surfaced to the caller through the report, never repaired or
// hidden.
func (g *Generator) Generate(ctx context.Context, userID uuid.UUID, projectID, startDate, endDate string) (*Report, error) {
	current, err := g.store.CurrentEntries(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read current entries: %w", err)
	}

	var included []*ledger.Entry
	for _, e := range current {
		if e.Operation == ledger.OpVoid {
			continue
		}
		// ISO dates compare correctly as strings.
		if e.Snapshot.Date < startDate || e.Snapshot.Date > endDate {
			continue
		}
		if projectID != "" && e.Snapshot.ProjectID != projectID {
			continue
		}
		included = append(included, e)
	}
	if len(included) == 0 {
		return nil, ErrNoTrips
	}
	sort.Slice(included, func(i, j int) bool { return included[i].Seq < included[j].Seq })

	first, last := included[0], included[len(included)-1]
	verification, err := g.verifier.Verify(ctx, userID, &ledger.SeqRange{From: first.Seq, To: last.Seq})
	if err != nil {
		return nil, fmt.Errorf("verify pinned range: %w", err)
	}

	profile, err := g.profiles.Snapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("snapshot profile: %w", err)
	}

	r := &Report{
		ID:            uuid.New(),
		UserID:        userID,
		GeneratedAt:   time.Now().UTC(),
		StartDate:     startDate,
		EndDate:       endDate,
		ProjectID:     projectID,
		Profile:       *profile,
		FirstTripHash: first.Hash,
		LastTripHash:  last.Hash,
		Verification:  *verification,
	}
	for _, e := range included {
		r.Trips = append(r.Trips, ReportTrip{
			TripID:    e.TripID.String(),
			EntryHash: e.Hash,
			Record:    e.Snapshot,
		})
		r.TotalDistance += e.Snapshot.DistanceKM
		if r.ProjectName == "" {
			r.ProjectName = e.Snapshot.ProjectName
		}
	}

	payload, err := SignaturePayload(r)
	if err != nil {
		return nil, fmt.Errorf("build signature payload: %w", err)
	}
	r.Signature = g.signer.Sign(payload)

	if err := g.reports.Insert(ctx, r); err != nil {
		return nil, fmt.Errorf("persist report: %w", err)
	}

	g.logger.Info("report generated",
		zap.String("report_id", r.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Int("trips", len(r.Trips)),
		zap.Bool("chain_valid", verification.Valid),
	)
	return r, nil
}

// AuditResult compares a stored report against the live chain.
type AuditResult struct {
	ReportID            uuid.UUID                 `json:"report_id"`
	SignatureValid      bool                      `json:"signature_valid"`
	StoredVerification  ledger.VerificationResult `json:"stored_verification"`
	CurrentVerification ledger.VerificationResult `json:"current_verification"`
	Tampered            bool                      `json:"tampered"`
}

// Audit re-runs verification over a report's pinned hash range against the
// current chain state and re-checks the signature. Any entry altered since
// issuance makes the fresh verification disagree with the stored one.
func (g *Generator) Audit(ctx context.Context, userID, reportID uuid.UUID) (*AuditResult, error) {
	r, err := g.reports.GetByID(ctx, userID, reportID)
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("report %s: %w", reportID, ErrReportNotFound)
	}

	current, err := g.verifier.VerifyHashRange(ctx, userID, r.FirstTripHash, r.LastTripHash)
	if err != nil {
		return nil, fmt.Errorf("re-verify pinned range: %w", err)
	}

	payload, err := SignaturePayload(r)
	if err != nil {
		return nil, fmt.Errorf("rebuild signature payload: %w", err)
	}

	res := &AuditResult{
		ReportID:            r.ID,
		SignatureValid:      g.signer.VerifySignature(payload, r.Signature),
		StoredVerification:  r.Verification,
		CurrentVerification: *current,
	}
	res.Tampered = !res.SignatureValid || !current.Valid || !verificationsEqual(&r.Verification, current)

	if res.Tampered {
		g.logger.Warn("report audit failed",
			zap.String("report_id", r.ID.String()),
			zap.Bool("signature_valid", res.SignatureValid),
			zap.Bool("chain_valid", current.Valid),
		)
	}
	return res, nil
}

func verificationsEqual(a, b *ledger.VerificationResult) bool {
	ab, err := ledger.Canonicalize(a)
	if err != nil {
		return false
	}
	bb, err := ledger.Canonicalize(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
