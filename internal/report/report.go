// Package report generates dated, signed trip exports pinned to a
// verifiable range of the ledger chain. A report is immutable once created;
// regenerating for the same parameters always inserts a new row, preserving
// the history of what was reported and against which chain state.
package report

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/milelog/milelog/internal/ledger"
	"github.com/milelog/milelog/internal/trip"
	"github.com/milelog/milelog/internal/users"
)

// ReportTrip is one live trip included in a report, together with the hash
// of the ledger entry that certifies its current state.
type ReportTrip struct {
	TripID    string      `json:"trip_id"`
	EntryHash string      `json:"entry_hash"`
	Record    trip.Record `json:"record"`
}

// Report is a dated, signed export of the live trips in a period.
type Report struct {
	ID            uuid.UUID                 `json:"id"`
	UserID        uuid.UUID                 `json:"user_id"`
	GeneratedAt   time.Time                 `json:"generated_at"`
	StartDate     string                    `json:"start_date"`
	EndDate       string                    `json:"end_date"`
	ProjectID     string                    `json:"project_id"`
	ProjectName   string                    `json:"project_name"`
	TotalDistance float64                   `json:"total_distance"`
	Trips         []ReportTrip              `json:"trips_data"`
	Profile       users.ProfileSnapshot     `json:"user_profile"`
	FirstTripHash string                    `json:"first_trip_hash"`
	LastTripHash  string                    `json:"last_trip_hash"`
	Verification  ledger.VerificationResult `json:"verification"`
	Signature     string                    `json:"signature"`
}

// SignaturePayload is the canonical byte string the report signature covers.
// It is recomputable from the stored report alone, so a signature can be
// re-checked long after issuance.
func SignaturePayload(r *Report) ([]byte, error) {
	return ledger.Canonicalize(map[string]any{
		"trips_data":      r.Trips,
		"user_profile":    r.Profile,
		"first_trip_hash": r.FirstTripHash,
		"last_trip_hash":  r.LastTripHash,
		"verification":    r.Verification,
	})
}

// Store persists reports. Insert-only; issued reports are never touched.
type Store interface {
	Insert(ctx context.Context, r *Report) error
	GetByID(ctx context.Context, userID, id uuid.UUID) (*Report, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Report, error)
}
