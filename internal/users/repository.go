package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a user is not found in the database.
var ErrNotFound = errors.New("user not found")

const userColumns = `id, email, display_name, password_hash, address, vehicle_plate, tax_id, created_at, updated_at`

// UserRepository provides user persistence against PostgreSQL.
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, u *User) error {
	u.ID = uuid.New()
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, email, display_name, password_hash, address, vehicle_plate, tax_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Email, u.DisplayName, u.PasswordHash, u.Address, u.VehiclePlate, u.TaxID, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanOne(ctx, fmt.Sprintf("SELECT %s FROM users WHERE id = $1", userColumns), id)
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanOne(ctx, fmt.Sprintf("SELECT %s FROM users WHERE email = $1", userColumns), email)
}

// UpdateProfile updates the mutable profile fields.
func (r *UserRepository) UpdateProfile(ctx context.Context, id uuid.UUID, displayName, address, vehiclePlate, taxID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET display_name = $2, address = $3, vehicle_plate = $4, tax_id = $5, updated_at = $6
		 WHERE id = $1`,
		id, displayName, address, vehiclePlate, taxID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanOne executes a query returning a single user row.
func (r *UserRepository) scanOne(ctx context.Context, query string, args ...any) (*User, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	var u User
	if err := rows.Scan(
		&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash,
		&u.Address, &u.VehiclePlate, &u.TaxID, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}
