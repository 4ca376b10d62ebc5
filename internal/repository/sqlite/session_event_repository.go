package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"authgate/internal/domain"
	"authgate/internal/repository"
)

const createSessionEventsTable = `
CREATE TABLE IF NOT EXISTS session_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id),
	logged_out_at DATETIME NOT NULL
);
`

type SessionEventRepository struct {
	db *sql.DB
}

func NewSessionEventRepository(db *sql.DB) repository.SessionEventRepository {
	return &SessionEventRepository{db: db}
}

func (r *SessionEventRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createSessionEventsTable); err != nil {
		return fmt.Errorf("create session_events table: %w", err)
	}
	return nil
}

func (r *SessionEventRepository) Append(ctx context.Context, event *domain.SessionEvent) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO session_events (user_id, logged_out_at)
VALUES (?, ?)`,
		event.UserID,
		event.LoggedOutAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert session event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("session event last insert id: %w", err)
	}
	event.ID = id
	return id, nil
}
