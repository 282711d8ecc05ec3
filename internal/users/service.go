package users

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// userRepo is the storage interface consumed by UserService.
type userRepo interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, displayName, address, vehiclePlate, taxID string) error
}

// UserService implements account management and profile snapshots.
type UserService struct {
	repo   userRepo
	logger *zap.Logger
}

// NewUserService creates a new UserService.
func NewUserService(repo userRepo, logger *zap.Logger) *UserService {
	return &UserService{repo: repo, logger: logger}
}

// Signup creates a new user with email/password authentication.
func (s *UserService) Signup(ctx context.Context, email, password, displayName string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("a valid email is required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	if existing, err := s.repo.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, fmt.Errorf("an account with this email already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user signed up", zap.String("user_id", u.ID.String()))
	return u, nil
}

// Login authenticates a user by email and password.
func (s *UserService) Login(ctx context.Context, email, password string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("invalid email or password")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, fmt.Errorf("invalid email or password")
	}
	return u, nil
}

// UpdateProfile replaces the mutable profile fields.
func (s *UserService) UpdateProfile(ctx context.Context, id uuid.UUID, displayName, address, vehiclePlate, taxID string) error {
	return s.repo.UpdateProfile(ctx, id, displayName, address, vehiclePlate, taxID)
}

// Snapshot captures the user's profile as of now, for embedding into a
// generated report.
func (s *UserService) Snapshot(ctx context.Context, id uuid.UUID) (*ProfileSnapshot, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	return &ProfileSnapshot{
		UserID:       u.ID.String(),
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		Address:      u.Address,
		VehiclePlate: u.VehiclePlate,
		TaxID:        u.TaxID,
		CapturedAt:   time.Now().UTC().Format(time.RFC3339),
	}, nil
}
