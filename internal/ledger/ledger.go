// Package ledger implements the tamper-evident trip ledger: a per-user
// append-only hash chain over trip mutations, its verification algorithm,
// and the batch summaries written after bulk imports.
//
// Every mutation to a trip (create, amend, void) is one immutable Entry.
// Entries for a user, ordered by insertion sequence, form a singly linked
// list where each entry's PrevHash equals the hash of its predecessor; the
// first entry links to the GenesisHash sentinel. Direct edits to stored
// entries are detected by the Verifier, which recomputes the chain from
// stored content.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
package ledger

import (
	"context"

	"github.com/google/uuid"
)

// SeqRange restricts an operation to entries with From <= Seq <= To.
// A zero To means "to the end of the chain".
type SeqRange struct {
	From int64
	To   int64
}

// Store is the append-only persistence layer for ledger entries. There are
// deliberately no update or delete methods; immutability is part of the
// interface contract, not a convention.
type Store interface {
	// AppendEntry inserts e, assigning its Seq and CreatedAt, but only if
	// e.PrevHash still equals the hash of the user's current head entry
	// (GenesisHash for an empty chain). Returns ErrHeadConflict otherwise.
	AppendEntry(ctx context.Context, e *Entry) error

	// Head returns the user's most recent entry, or nil for an empty chain.
	Head(ctx context.Context, userID uuid.UUID) (*Entry, error)

	// Entries returns the user's entries in insertion-sequence order,
	// optionally restricted to rng.
	Entries(ctx context.Context, userID uuid.UUID, rng *SeqRange) ([]*Entry, error)

	// EntryBySeq returns the entry at the given sequence, or nil.
	EntryBySeq(ctx context.Context, userID uuid.UUID, seq int64) (*Entry, error)

	// EntryByHash returns the entry with the given stored hash, or nil.
	EntryByHash(ctx context.Context, userID uuid.UUID, hash string) (*Entry, error)

	// LatestByTrip returns the most recent entry for a trip, or nil when the
	// trip has never been created.
	LatestByTrip(ctx context.Context, userID, tripID uuid.UUID) (*Entry, error)

	// CurrentEntries returns the most recent entry of every trip the user
	// has, in chain order.
	CurrentEntries(ctx context.Context, userID uuid.UUID) ([]*Entry, error)

	// EntriesByBatch returns the member entries of a bulk run in insertion
	// order.
	EntriesByBatch(ctx context.Context, userID, batchID uuid.UUID) ([]*Entry, error)

	// CountByBatch counts the persisted entries sharing batchID.
	CountByBatch(ctx context.Context, userID, batchID uuid.UUID) (int, error)
}

// BatchStore persists batch summary rows. Like entries, batches are
// insert-only.
type BatchStore interface {
	RecordBatch(ctx context.Context, b *Batch) error
	BatchByID(ctx context.Context, userID, batchID uuid.UUID) (*Batch, error)
	BatchesByUser(ctx context.Context, userID uuid.UUID) ([]*Batch, error)
}
