package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"authgate/internal/domain"
	"authgate/internal/repository"
)

var (
	// ErrValidation indicates malformed client input; the wrapped message is user-safe.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials indicates that provided login credentials are incorrect.
	// Deliberately identical for unknown email and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserAlreadyExists is returned when signing up with an email already in use.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrUserNotFound is returned when a referenced user no longer exists.
	ErrUserNotFound = errors.New("user not found")
)

// AuthService describes the credential lifecycle operations.
type AuthService interface {
	Signup(ctx context.Context, name, email, password string) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*domain.User, error)
	Logout(ctx context.Context, userID int64, at time.Time) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	TouchActivity(ctx context.Context, id int64, at time.Time) error
}

type authService struct {
	users  repository.UserRepository
	events repository.SessionEventRepository
}

func NewAuthService(users repository.UserRepository, events repository.SessionEventRepository) AuthService {
	return &authService{
		users:  users,
		events: events,
	}
}

func (s *authService) Signup(ctx context.Context, name, email, password string) (*domain.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name == "" || email == "" || password == "" {
		return nil, fmt.Errorf("%w: please fill in all fields", ErrValidation)
	}
	if !validPassword(password) {
		return nil, fmt.Errorf("%w: password must be at least 6 characters long and include both letters and numbers", ErrValidation)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrUserAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	}

	if _, err := s.users.Create(ctx, user); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}

	return sanitizeUser(user), nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.users.UpdateLastActivity(ctx, user.ID, time.Now().UTC()); err != nil {
		return nil, err
	}

	return sanitizeUser(user), nil
}

// Logout appends an audit event for the user. With userID 0 (no usable
// token on the request) there is nothing to record and the call is a no-op.
func (s *authService) Logout(ctx context.Context, userID int64, at time.Time) error {
	if userID <= 0 {
		return nil
	}
	event := &domain.SessionEvent{
		UserID:      userID,
		LoggedOutAt: at,
	}
	if _, err := s.events.Append(ctx, event); err != nil {
		return fmt.Errorf("append session event: %w", err)
	}
	return nil
}

func (s *authService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *authService) TouchActivity(ctx context.Context, id int64, at time.Time) error {
	return s.users.UpdateLastActivity(ctx, id, at)
}

// validPassword enforces the signup policy: letters and digits only,
// at least one of each, length >= 6.
func validPassword(password string) bool {
	if len(password) < 6 {
		return false
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			return false
		}
	}
	return hasLetter && hasDigit
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		ID:           user.ID,
		Name:         user.Name,
		Email:        user.Email,
		LastActivity: user.LastActivity,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}
}
