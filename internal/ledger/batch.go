package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Batch summarises one bulk write: the run of entries sharing a batch id.
// Its hashes are read from the persisted member entries, never recomputed.
type Batch struct {
	ID              uuid.UUID     `json:"id"`
	BatchID         uuid.UUID     `json:"batch_id"`
	UserID          uuid.UUID     `json:"user_id"`
	Source          Source        `json:"source"`
	EntryCount      int           `json:"entry_count"`
	FirstEntryHash  string        `json:"first_entry_hash"`
	LastEntryHash   string        `json:"last_entry_hash"`
	SourceDocuments []DocumentRef `json:"source_documents,omitempty"`
	Partial         bool          `json:"partial"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Recorder writes the trailing batch summary after a bulk operation's member
// entries are all durably appended.
type Recorder struct {
	store   Store
	batches BatchStore
	logger  *zap.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(store Store, batches BatchStore, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, batches: batches, logger: logger}
}

// Record re-counts the persisted entries sharing batchID and writes the
// batch row. If the count disagrees with what the bulk operation believes it
// wrote, the batch is still recorded, flagged partial, and a
// BatchCountMismatchError is returned alongside it.
func (r *Recorder) Record(ctx context.Context, userID, batchID uuid.UUID, source Source, expected int, docs []DocumentRef) (*Batch, error) {
	members, err := r.store.EntriesByBatch(ctx, userID, batchID)
	if err != nil {
		return nil, fmt.Errorf("read batch members: %w", err)
	}

	b := &Batch{
		ID:              uuid.New(),
		BatchID:         batchID,
		UserID:          userID,
		Source:          source,
		EntryCount:      len(members),
		SourceDocuments: docs,
		Partial:         len(members) != expected,
	}
	if len(members) > 0 {
		b.FirstEntryHash = members[0].Hash
		b.LastEntryHash = members[len(members)-1].Hash
	}

	if err := r.batches.RecordBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("record batch: %w", err)
	}

	if b.Partial {
		r.logger.Warn("batch recorded partial",
			zap.String("batch_id", batchID.String()),
			zap.Int("expected", expected),
			zap.Int("persisted", len(members)),
		)
		return b, &BatchCountMismatchError{BatchID: batchID, Expected: expected, Actual: len(members)}
	}
	return b, nil
}
