package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/milelog/milelog/internal/trip"
	"go.uber.org/zap"
)

const entryColumns = `id, user_id, seq, created_at, timestamp, operation, source,
	batch_id, source_document, trip_id, snapshot, previous_snapshot,
	changed_fields, reason, prev_hash, hash`

// uniqueViolation is the PostgreSQL error code for unique-constraint hits.
const uniqueViolation = "23505"

// PostgresStore persists the trip ledger to PostgreSQL. It implements Store
// and BatchStore.
//
// Appends are serialised per user with a transaction-scoped advisory lock
// derived from the user id, and the head is re-read inside that transaction.
// A partial unique index on (user_id, prev_hash) backs this up structurally:
// two entries can never reference the same predecessor even if the lock is
// bypassed.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// userLockKey maps a user id onto a stable advisory lock key, so appends for
// different users never contend.
func userLockKey(userID uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(userID[:8])) //nolint:gosec
}

// AppendEntry implements Store.
func (s *PostgresStore) AppendEntry(ctx context.Context, e *Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Lock is released automatically at commit or rollback.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", userLockKey(e.UserID)); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	headHash := GenesisHash
	var headSeq int64
	err = tx.QueryRow(ctx,
		"SELECT seq, hash FROM ledger_entries WHERE user_id = $1 ORDER BY seq DESC LIMIT 1",
		e.UserID,
	).Scan(&headSeq, &headHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("read chain head: %w", err)
	}
	if e.PrevHash != headHash {
		return ErrHeadConflict
	}

	snapshot, prevSnapshot, sourceDoc, err := marshalEntryJSON(e)
	if err != nil {
		return err
	}

	e.Seq = headSeq + 1
	e.CreatedAt = time.Now().UTC()
	_, err = tx.Exec(ctx,
		`INSERT INTO ledger_entries (
			id, user_id, seq, created_at, timestamp, operation, source,
			batch_id, source_document, trip_id, snapshot, previous_snapshot,
			changed_fields, reason, prev_hash, hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, e.UserID, e.Seq, e.CreatedAt, e.Timestamp, e.Operation, e.Source,
		e.BatchID, sourceDoc, e.TripID, snapshot, prevSnapshot,
		e.ChangedFields, nullableString(e.Reason), e.PrevHash, e.Hash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrHeadConflict
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}

	s.logger.Debug("ledger entry persisted",
		zap.String("user_id", e.UserID.String()),
		zap.Int64("seq", e.Seq),
		zap.String("operation", string(e.Operation)),
	)
	return nil
}

// Head implements Store.
func (s *PostgresStore) Head(ctx context.Context, userID uuid.UUID) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM ledger_entries WHERE user_id = $1 ORDER BY seq DESC LIMIT 1", entryColumns),
		userID,
	)
	return scanEntryOrNil(row)
}

// Entries implements Store.
func (s *PostgresStore) Entries(ctx context.Context, userID uuid.UUID, rng *SeqRange) ([]*Entry, error) {
	from, to := int64(0), int64(0)
	if rng != nil {
		from, to = rng.From, rng.To
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM ledger_entries
			WHERE user_id = $1
			  AND seq >= $2
			  AND ($3 = 0 OR seq <= $3)
			ORDER BY seq ASC`, entryColumns),
		userID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// EntryBySeq implements Store.
func (s *PostgresStore) EntryBySeq(ctx context.Context, userID uuid.UUID, seq int64) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM ledger_entries WHERE user_id = $1 AND seq = $2", entryColumns),
		userID, seq,
	)
	return scanEntryOrNil(row)
}

// EntryByHash implements Store.
func (s *PostgresStore) EntryByHash(ctx context.Context, userID uuid.UUID, hash string) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM ledger_entries WHERE user_id = $1 AND hash = $2", entryColumns),
		userID, hash,
	)
	return scanEntryOrNil(row)
}

// LatestByTrip implements Store.
func (s *PostgresStore) LatestByTrip(ctx context.Context, userID, tripID uuid.UUID) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM ledger_entries
			WHERE user_id = $1 AND trip_id = $2
			ORDER BY seq DESC LIMIT 1`, entryColumns),
		userID, tripID,
	)
	return scanEntryOrNil(row)
}

// CurrentEntries implements Store.
func (s *PostgresStore) CurrentEntries(ctx context.Context, userID uuid.UUID) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT DISTINCT ON (trip_id) %s FROM ledger_entries
			WHERE user_id = $1
			ORDER BY trip_id, seq DESC`, entryColumns),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query current entries: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// EntriesByBatch implements Store.
func (s *PostgresStore) EntriesByBatch(ctx context.Context, userID, batchID uuid.UUID) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM ledger_entries
			WHERE user_id = $1 AND batch_id = $2
			ORDER BY seq ASC`, entryColumns),
		userID, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query batch members: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// CountByBatch implements Store.
func (s *PostgresStore) CountByBatch(ctx context.Context, userID, batchID uuid.UUID) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM ledger_entries WHERE user_id = $1 AND batch_id = $2",
		userID, batchID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count batch members: %w", err)
	}
	return n, nil
}

// RecordBatch implements BatchStore.
func (s *PostgresStore) RecordBatch(ctx context.Context, b *Batch) error {
	docs, err := json.Marshal(b.SourceDocuments)
	if err != nil {
		return fmt.Errorf("marshal source documents: %w", err)
	}
	b.CreatedAt = time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ledger_batches (
			id, batch_id, user_id, created_at, source, entry_count,
			first_entry_hash, last_entry_hash, source_documents, partial
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.BatchID, b.UserID, b.CreatedAt, b.Source, b.EntryCount,
		b.FirstEntryHash, b.LastEntryHash, docs, b.Partial,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// BatchByID implements BatchStore.
func (s *PostgresStore) BatchByID(ctx context.Context, userID, batchID uuid.UUID) (*Batch, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, batch_id, user_id, created_at, source, entry_count,
			first_entry_hash, last_entry_hash, source_documents, partial
		 FROM ledger_batches WHERE user_id = $1 AND batch_id = $2`,
		userID, batchID,
	)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

// BatchesByUser implements BatchStore.
func (s *PostgresStore) BatchesByUser(ctx context.Context, userID uuid.UUID) ([]*Batch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, batch_id, user_id, created_at, source, entry_count,
			first_entry_hash, last_entry_hash, source_documents, partial
		 FROM ledger_batches WHERE user_id = $1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	var out []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntryOrNil(row rowScanner) (*Entry, error) {
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e            Entry
		snapshot     []byte
		prevSnapshot []byte
		sourceDoc    []byte
		reason       *string
	)
	if err := row.Scan(
		&e.ID, &e.UserID, &e.Seq, &e.CreatedAt, &e.Timestamp, &e.Operation, &e.Source,
		&e.BatchID, &sourceDoc, &e.TripID, &snapshot, &prevSnapshot,
		&e.ChangedFields, &reason, &e.PrevHash, &e.Hash,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &e.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(prevSnapshot) > 0 {
		var prev trip.Record
		if err := json.Unmarshal(prevSnapshot, &prev); err != nil {
			return nil, fmt.Errorf("decode previous snapshot: %w", err)
		}
		e.PrevSnapshot = &prev
	}
	if len(sourceDoc) > 0 {
		var doc DocumentRef
		if err := json.Unmarshal(sourceDoc, &doc); err != nil {
			return nil, fmt.Errorf("decode source document: %w", err)
		}
		e.SourceDoc = &doc
	}
	if reason != nil {
		e.Reason = *reason
	}
	return &e, nil
}

func collectEntries(rows pgx.Rows) ([]*Entry, error) {
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanBatch(row rowScanner) (*Batch, error) {
	var (
		b    Batch
		docs []byte
	)
	if err := row.Scan(
		&b.ID, &b.BatchID, &b.UserID, &b.CreatedAt, &b.Source, &b.EntryCount,
		&b.FirstEntryHash, &b.LastEntryHash, &docs, &b.Partial,
	); err != nil {
		return nil, err
	}
	if len(docs) > 0 {
		if err := json.Unmarshal(docs, &b.SourceDocuments); err != nil {
			return nil, fmt.Errorf("decode source documents: %w", err)
		}
	}
	return &b, nil
}

func marshalEntryJSON(e *Entry) (snapshot, prevSnapshot, sourceDoc []byte, err error) {
	snapshot, err = json.Marshal(e.Snapshot)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	if e.PrevSnapshot != nil {
		prevSnapshot, err = json.Marshal(e.PrevSnapshot)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal previous snapshot: %w", err)
		}
	}
	if e.SourceDoc != nil {
		sourceDoc, err = json.Marshal(e.SourceDoc)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal source document: %w", err)
		}
	}
	return snapshot, prevSnapshot, sourceDoc, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
