package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/milelog/milelog/internal/ledger"
	"github.com/milelog/milelog/internal/users"
)

const reportColumns = `id, user_id, generated_at, start_date, end_date, project_id,
	project_name, total_distance, trips_data, user_profile,
	first_trip_hash, last_trip_hash, verification, signature`

// PostgresStore persists reports to PostgreSQL. Insert-only.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, r *Report) error {
	trips, err := json.Marshal(r.Trips)
	if err != nil {
		return fmt.Errorf("marshal trips data: %w", err)
	}
	profile, err := json.Marshal(r.Profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	verification, err := json.Marshal(r.Verification)
	if err != nil {
		return fmt.Errorf("marshal verification: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO reports (
			id, user_id, generated_at, start_date, end_date, project_id,
			project_name, total_distance, trips_data, user_profile,
			first_trip_hash, last_trip_hash, verification, signature
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.UserID, r.GeneratedAt, r.StartDate, r.EndDate, r.ProjectID,
		r.ProjectName, r.TotalDistance, trips, profile,
		r.FirstTripHash, r.LastTripHash, verification, r.Signature,
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// GetByID implements Store.
func (s *PostgresStore) GetByID(ctx context.Context, userID, id uuid.UUID) (*Report, error) {
	rows, err := s.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM reports WHERE user_id = $1 AND id = $2", reportColumns),
		userID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanReport(rows)
}

// ListByUser implements Store.
func (s *PostgresStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Report, error) {
	rows, err := s.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM reports WHERE user_id = $1 ORDER BY generated_at ASC", reportColumns),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var out []*Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (*Report, error) {
	var (
		r            Report
		trips        []byte
		profile      []byte
		verification []byte
	)
	if err := row.Scan(
		&r.ID, &r.UserID, &r.GeneratedAt, &r.StartDate, &r.EndDate, &r.ProjectID,
		&r.ProjectName, &r.TotalDistance, &trips, &profile,
		&r.FirstTripHash, &r.LastTripHash, &verification, &r.Signature,
	); err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}
	if err := json.Unmarshal(trips, &r.Trips); err != nil {
		return nil, fmt.Errorf("decode trips data: %w", err)
	}
	var p users.ProfileSnapshot
	if err := json.Unmarshal(profile, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	r.Profile = p
	var v ledger.VerificationResult
	if err := json.Unmarshal(verification, &v); err != nil {
		return nil, fmt.Errorf("decode verification: %w", err)
	}
	r.Verification = v
	return &r, nil
}
