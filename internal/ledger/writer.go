package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/milelog/milelog/internal/trip"
	"go.uber.org/zap"
)

// maxAppendRetries bounds how often an append is retried after losing the
// race for the chain head before ErrConcurrencyConflict is surfaced.
const maxAppendRetries = 3

// Op is the sealed set of ledger operations. Each variant carries only the
// fields that operation needs, so invalid combinations (a create with a
// reason, an amend without one) cannot be expressed.
type Op interface{ isOp() }

// Create records a new trip.
type Create struct {
	Record    trip.Record
	Source    Source
	SourceDoc *DocumentRef
	BatchID   *uuid.UUID
	TripID    uuid.UUID // optional; generated when zero
}

// Amend corrects an existing trip. Reason is mandatory and the patch must
// actually change something.
type Amend struct {
	TripID    uuid.UUID
	Patch     trip.Patch
	Reason    string
	Source    Source
	SourceDoc *DocumentRef
	BatchID   *uuid.UUID
}

// Void retires a trip. The last snapshot is carried forward unchanged; only
// the operation marks the trip as void. History stays verifiable.
type Void struct {
	TripID uuid.UUID
	Reason string
	Source Source
}

func (Create) isOp() {}
func (Amend) isOp()  {}
func (Void) isOp()   {}

// Writer appends entries to a user's hash chain. It re-reads the chain head
// at write time on every attempt, so a hash computed against a stale head
// can never be persisted.
type Writer struct {
	store  Store
	logger *zap.Logger
}

// NewWriter creates a Writer backed by store.
func NewWriter(store Store, logger *zap.Logger) *Writer {
	return &Writer{store: store, logger: logger}
}

// Append validates op, builds the entry, and inserts it chained to the
// user's current head. On a head conflict the entry is rebuilt from the new
// chain state and retried, bounded by maxAppendRetries.
func (w *Writer) Append(ctx context.Context, userID uuid.UUID, op Op) (*Entry, error) {
	for attempt := 1; attempt <= maxAppendRetries; attempt++ {
		entry, err := w.buildEntry(ctx, userID, op)
		if err != nil {
			return nil, err
		}

		head, err := w.store.Head(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("read chain head: %w", err)
		}
		entry.PrevHash = GenesisHash
		if head != nil {
			entry.PrevHash = head.Hash
		}
		entry.Hash, err = computeHash(entry)
		if err != nil {
			return nil, fmt.Errorf("compute entry hash: %w", err)
		}

		err = w.store.AppendEntry(ctx, entry)
		if errors.Is(err, ErrHeadConflict) {
			w.logger.Debug("chain head moved during append, retrying",
				zap.String("user_id", userID.String()),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("append ledger entry: %w", err)
		}

		w.logger.Debug("ledger entry appended",
			zap.String("user_id", userID.String()),
			zap.Int64("seq", entry.Seq),
			zap.String("operation", string(entry.Operation)),
			zap.String("trip_id", entry.TripID.String()),
		)
		return entry, nil
	}
	return nil, ErrConcurrencyConflict
}

// buildEntry turns an operation into an unchained entry. Trip lookups happen
// here, inside the retry loop, so a concurrent edit to the same trip is
// re-read before the rebuilt entry is hashed.
func (w *Writer) buildEntry(ctx context.Context, userID uuid.UUID, op Op) (*Entry, error) {
	switch o := op.(type) {
	case Create:
		return w.buildCreate(userID, o)
	case Amend:
		return w.buildAmend(ctx, userID, o)
	case Void:
		return w.buildVoid(ctx, userID, o)
	default:
		return nil, &ValidationError{Msg: fmt.Sprintf("unknown ledger operation %T", op)}
	}
}

func (w *Writer) buildCreate(userID uuid.UUID, o Create) (*Entry, error) {
	if err := o.Record.Validate(); err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	tripID := o.TripID
	if tripID == uuid.Nil {
		tripID = uuid.New()
	}
	return &Entry{
		ID:        uuid.New(),
		UserID:    userID,
		Timestamp: o.Record.Date,
		Operation: OpCreate,
		Source:    defaultSource(o.Source),
		BatchID:   o.BatchID,
		SourceDoc: o.SourceDoc,
		TripID:    tripID,
		Snapshot:  o.Record,
	}, nil
}

func (w *Writer) buildAmend(ctx context.Context, userID uuid.UUID, o Amend) (*Entry, error) {
	if o.Reason == "" {
		return nil, &ValidationError{Msg: "amend requires a non-empty reason"}
	}
	if o.Patch.IsZero() {
		return nil, &ValidationError{Msg: "amend carries no fields"}
	}
	prev, err := w.latestLive(ctx, userID, o.TripID)
	if err != nil {
		return nil, err
	}

	prevSnapshot := prev.Snapshot
	snapshot := o.Patch.Apply(prevSnapshot)
	if err := snapshot.Validate(); err != nil {
		return nil, &ValidationError{Msg: err.Error()}
	}
	changed, err := DiffFields(prevSnapshot, snapshot)
	if err != nil {
		return nil, fmt.Errorf("diff snapshots: %w", err)
	}
	if len(changed) == 0 {
		return nil, &ValidationError{Msg: "amend changes nothing"}
	}

	return &Entry{
		ID:            uuid.New(),
		UserID:        userID,
		Timestamp:     snapshot.Date,
		Operation:     OpAmend,
		Source:        defaultSource(o.Source),
		BatchID:       o.BatchID,
		SourceDoc:     o.SourceDoc,
		TripID:        o.TripID,
		Snapshot:      snapshot,
		PrevSnapshot:  &prevSnapshot,
		ChangedFields: changed,
		Reason:        o.Reason,
	}, nil
}

func (w *Writer) buildVoid(ctx context.Context, userID uuid.UUID, o Void) (*Entry, error) {
	if o.Reason == "" {
		return nil, &ValidationError{Msg: "void requires a non-empty reason"}
	}
	prev, err := w.latestLive(ctx, userID, o.TripID)
	if err != nil {
		return nil, err
	}

	prevSnapshot := prev.Snapshot
	return &Entry{
		ID:           uuid.New(),
		UserID:       userID,
		Timestamp:    prevSnapshot.Date,
		Operation:    OpVoid,
		Source:       defaultSource(o.Source),
		TripID:       o.TripID,
		Snapshot:     prevSnapshot, // carried forward unchanged; the operation marks it void
		PrevSnapshot: &prevSnapshot,
		Reason:       o.Reason,
	}, nil
}

// latestLive resolves the trip's most recent entry and rejects trips that
// were never created or are already voided.
func (w *Writer) latestLive(ctx context.Context, userID, tripID uuid.UUID) (*Entry, error) {
	latest, err := w.store.LatestByTrip(ctx, userID, tripID)
	if err != nil {
		return nil, fmt.Errorf("look up trip %s: %w", tripID, err)
	}
	if latest == nil {
		return nil, ErrTripNotFound
	}
	if latest.Operation == OpVoid {
		return nil, &ValidationError{Msg: fmt.Sprintf("trip %s is voided", tripID)}
	}
	return latest, nil
}

func defaultSource(s Source) Source {
	if s == "" {
		return SourceManual
	}
	return s
}
