package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrTripNotFound is returned when an amend or void references a trip with
// no prior create entry in the caller's chain.
var ErrTripNotFound = errors.New("trip not found")

// ErrHeadConflict is returned by Store.AppendEntry when the chain head moved
// between the caller reading it and the insert. The Writer retries on it.
var ErrHeadConflict = errors.New("chain head changed")

// ErrConcurrencyConflict is surfaced to callers after the Writer exhausts
// its head-conflict retries. Transient; the caller may resubmit.
var ErrConcurrencyConflict = errors.New("ledger append conflict: retries exhausted")

// ValidationError rejects a malformed payload before anything is written.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// BatchCountMismatchError reports a bulk run whose persisted member count
// differs from what the importer believes it wrote. The batch row is still
// recorded, flagged partial; the count is never silently corrected.
type BatchCountMismatchError struct {
	BatchID  uuid.UUID
	Expected int
	Actual   int
}

func (e *BatchCountMismatchError) Error() string {
	return fmt.Sprintf("batch %s: expected %d entries, found %d", e.BatchID, e.Expected, e.Actual)
}
