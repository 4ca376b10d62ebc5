package repository

import (
	"context"
	"time"

	"authgate/internal/domain"
)

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) (int64, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	UpdateLastActivity(ctx context.Context, id int64, at time.Time) error
}

// SessionEventRepository records logout events. Append-only.
type SessionEventRepository interface {
	Init(ctx context.Context) error
	Append(ctx context.Context, event *domain.SessionEvent) (int64, error)
}
