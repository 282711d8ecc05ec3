// Package trip defines the trip payload exchanged between the collaborators
// that produce candidate trips (forms, CSV rows, AI extraction) and the
// ledger that records them.
package trip

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for business dates. Dates are kept as plain
// strings end to end so canonical serialization does not depend on time zone
// or sub-second formatting.
const DateLayout = "2006-01-02"

// Record is the full trip record captured in a ledger snapshot.
type Record struct {
	Date        string  `json:"date"` // business date, YYYY-MM-DD; user-editable, never used for chain ordering
	Origin      string  `json:"origin"`
	Destination string  `json:"destination"`
	DistanceKM  float64 `json:"distance_km"`
	Purpose     string  `json:"purpose"`
	ProjectID   string  `json:"project_id"`
	ProjectName string  `json:"project_name"`
	Vehicle     string  `json:"vehicle"`
	Notes       string  `json:"notes"`
}

// Validate checks that a record is complete enough to be appended.
func (r Record) Validate() error {
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	if r.Origin == "" {
		return fmt.Errorf("origin is required")
	}
	if r.Destination == "" {
		return fmt.Errorf("destination is required")
	}
	if r.DistanceKM <= 0 {
		return fmt.Errorf("distance_km must be positive")
	}
	if r.Purpose == "" {
		return fmt.Errorf("purpose is required")
	}
	return nil
}

// BusinessDate parses the record's business date.
func (r Record) BusinessDate() (time.Time, error) {
	return time.Parse(DateLayout, r.Date)
}

// Patch is a partial update applied to an existing record during an amend.
// Nil fields are left unchanged.
type Patch struct {
	Date        *string  `json:"date,omitempty"`
	Origin      *string  `json:"origin,omitempty"`
	Destination *string  `json:"destination,omitempty"`
	DistanceKM  *float64 `json:"distance_km,omitempty"`
	Purpose     *string  `json:"purpose,omitempty"`
	ProjectID   *string  `json:"project_id,omitempty"`
	ProjectName *string  `json:"project_name,omitempty"`
	Vehicle     *string  `json:"vehicle,omitempty"`
	Notes       *string  `json:"notes,omitempty"`
}

// IsZero reports whether the patch carries no fields at all.
func (p Patch) IsZero() bool {
	return p.Date == nil && p.Origin == nil && p.Destination == nil &&
		p.DistanceKM == nil && p.Purpose == nil && p.ProjectID == nil &&
		p.ProjectName == nil && p.Vehicle == nil && p.Notes == nil
}

// Apply returns a copy of base with the patch's non-nil fields applied.
func (p Patch) Apply(base Record) Record {
	out := base
	if p.Date != nil {
		out.Date = *p.Date
	}
	if p.Origin != nil {
		out.Origin = *p.Origin
	}
	if p.Destination != nil {
		out.Destination = *p.Destination
	}
	if p.DistanceKM != nil {
		out.DistanceKM = *p.DistanceKM
	}
	if p.Purpose != nil {
		out.Purpose = *p.Purpose
	}
	if p.ProjectID != nil {
		out.ProjectID = *p.ProjectID
	}
	if p.ProjectName != nil {
		out.ProjectName = *p.ProjectName
	}
	if p.Vehicle != nil {
		out.Vehicle = *p.Vehicle
	}
	if p.Notes != nil {
		out.Notes = *p.Notes
	}
	return out
}
