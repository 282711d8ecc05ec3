package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/milelog/milelog/internal/trip"
)

// GenesisHash is the fixed sentinel predecessor of the first entry in every
// user's chain. It is a well-known constant rather than a computed value so
// an empty prev_hash can never be mistaken for a valid link.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Operation tags what a ledger entry did to its trip.
type Operation string

const (
	OpCreate Operation = "create"
	OpAmend  Operation = "amend"
	OpVoid   Operation = "void"
)

// Source tags where a candidate trip payload came from.
type Source string

const (
	SourceManual     Source = "manual"
	SourceAIAgent    Source = "ai_agent"
	SourceCSVImport  Source = "csv_import"
	SourceBulkUpload Source = "bulk_upload"
)

// DocumentRef points at the document a trip was extracted from (receipt
// scan, uploaded CSV, calendar export). Provenance only; the document itself
// is stored elsewhere.
type DocumentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Entry is one immutable fact in a user's trip history. Entries are never
// updated or deleted; corrections are recorded as further entries.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Seq       int64     `json:"seq"`        // insertion sequence; defines chain order
	CreatedAt time.Time `json:"created_at"` // insertion time
	Timestamp string    `json:"timestamp"`  // business date of the trip; user-editable, never trusted for ordering

	Operation Operation    `json:"operation"`
	Source    Source       `json:"source"`
	BatchID   *uuid.UUID   `json:"batch_id,omitempty"`
	SourceDoc *DocumentRef `json:"source_document,omitempty"`

	TripID        uuid.UUID    `json:"trip_id"`
	Snapshot      trip.Record  `json:"snapshot"`
	PrevSnapshot  *trip.Record `json:"previous_snapshot,omitempty"`
	ChangedFields []string     `json:"changed_fields,omitempty"`
	Reason        string       `json:"reason,omitempty"`

	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// computeHash derives an entry's hash: SHA-256 over the canonical JSON of
// the entry's content fields concatenated with the predecessor hash (or the
// genesis sentinel). Seq and CreatedAt are assigned by the store and are
// deliberately outside the digest; the chain position is bound by PrevHash.
func computeHash(e *Entry) (string, error) {
	content := map[string]any{
		"operation":         e.Operation,
		"trip_id":           e.TripID.String(),
		"snapshot":          e.Snapshot,
		"previous_snapshot": e.PrevSnapshot,
		"changed_fields":    e.ChangedFields,
		"reason":            e.Reason,
		"source":            e.Source,
		"source_document":   e.SourceDoc,
	}
	canon, err := Canonicalize(content)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(canon)
	h.Write([]byte(e.PrevHash))
	return hex.EncodeToString(h.Sum(nil)), nil
}
