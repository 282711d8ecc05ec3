package users

import (
	"time"

	"github.com/google/uuid"
)

// User is a milelog account. Profile fields end up in report snapshots, so
// they carry whatever a tax authority expects next to a mileage log.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Address      string    `json:"address"`
	VehiclePlate string    `json:"vehicle_plate"`
	TaxID        string    `json:"tax_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProfileSnapshot is the user profile as captured into a generated report.
// It is frozen at generation time; later profile edits do not touch issued
// reports.
type ProfileSnapshot struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name"`
	Address      string `json:"address"`
	VehiclePlate string `json:"vehicle_plate"`
	TaxID        string `json:"tax_id"`
	CapturedAt   string `json:"captured_at"` // RFC 3339
}
