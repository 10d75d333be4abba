package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionStore persists ImportSession headers.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a SessionStore backed by the given pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

const sessionColumns = `import_id, user_id, status, current_index, total_count, source_filename, created_at, updated_at`

// CreateSession inserts a new ACTIVE session for the user.
//
// The one-live-session-per-user invariant is enforced twice: a friendly
// lookup first, then the partial unique index catches the check-then-act
// race. Both paths surface a ConflictError with nothing mutated.
func (s *SessionStore) CreateSession(ctx context.Context, userID string, totalCount int, sourceFilename string) (*Session, error) {
	if existing, err := s.GetActiveSession(ctx, userID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &ConflictError{UserID: userID, ExistingID: existing.ID}
	}

	id := uuid.New().String()
	row := s.pool.QueryRow(ctx,
		`INSERT INTO import_sessions (import_id, user_id, status, current_index, total_count, source_filename)
		 VALUES ($1, $2, $3, 0, $4, $5)
		 RETURNING `+sessionColumns,
		id, userID, SessionActive, totalCount, sourceFilename,
	)

	sess, err := scanSession(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, &ConflictError{UserID: userID}
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// GetActiveSession returns the user's ACTIVE or PAUSED session, or nil.
func (s *SessionStore) GetActiveSession(ctx context.Context, userID string) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM import_sessions
		 WHERE user_id = $1 AND status IN ($2, $3)`,
		userID, SessionActive, SessionPaused,
	)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return sess, nil
}

// GetSession returns the session by id.
func (s *SessionStore) GetSession(ctx context.Context, importID string) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM import_sessions WHERE import_id = $1`,
		importID,
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", importID, err)
	}
	return sess, nil
}

// SetStatus transitions the session to a new status. Invalid transitions
// (for example CANCELED → ACTIVE) fail without writing.
func (s *SessionStore) SetStatus(ctx context.Context, importID string, status SessionStatus) error {
	current, err := s.GetSession(ctx, importID)
	if err != nil {
		return err
	}
	if !ValidTransition(current.Status, status) {
		return fmt.Errorf("session %s: invalid transition %s -> %s", importID, current.Status, status)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE import_sessions SET status = $2, updated_at = now() WHERE import_id = $1`,
		importID, status,
	)
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	return nil
}

// SetCurrentIndex updates the advisory progress cursor.
func (s *SessionStore) SetCurrentIndex(ctx context.Context, importID string, index int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE import_sessions SET current_index = $2, updated_at = now() WHERE import_id = $1`,
		importID, index,
	)
	if err != nil {
		return fmt.Errorf("set current index: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.Status, &sess.CurrentIndex,
		&sess.TotalCount, &sess.SourceFilename, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
