// Package catalog provides access to the canonical game catalog and to users'
// completion records.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Game is a canonical catalog entry, optionally linked to its id at the
// external metadata provider.
type Game struct {
	ID          string
	Title       string
	Summary     string
	CoverURL    string
	ReleaseYear *int
	ProviderID  *string
	CreatedAt   time.Time
}

// Completion is one user's finished-game record.
type Completion struct {
	ID             string
	UserID         string
	GameID         string
	CompletedAt    *time.Time
	CompletionType string
	PlaytimeHours  *float64
	Platform       string
	Region         string
	Source         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store reads and writes catalog entries and completion records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a catalog Store backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const gameColumns = `game_id, title, summary, cover_url, release_year, provider_id, created_at`

// SearchByTitle returns catalog entries whose title matches exactly,
// case-insensitively.
func (s *Store) SearchByTitle(ctx context.Context, title string) ([]Game, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+gameColumns+` FROM games WHERE LOWER(title) = LOWER($1) ORDER BY created_at`,
		title,
	)
	if err != nil {
		return nil, fmt.Errorf("search games by title: %w", err)
	}
	defer rows.Close()

	var games []Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("search games by title: %w", err)
		}
		games = append(games, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search games by title: %w", err)
	}
	return games, nil
}

// GetByProviderID returns the catalog entry linked to the external provider
// id, or nil if none exists yet.
func (s *Store) GetByProviderID(ctx context.Context, providerID string) (*Game, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+gameColumns+` FROM games WHERE provider_id = $1`,
		providerID,
	)
	g, err := scanGame(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get game by provider id: %w", err)
	}
	return g, nil
}

// CreateGame inserts a new catalog entry and returns it.
func (s *Store) CreateGame(ctx context.Context, g Game) (*Game, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO games (game_id, title, summary, cover_url, release_year, provider_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+gameColumns,
		uuid.New().String(), g.Title, g.Summary, g.CoverURL, g.ReleaseYear, g.ProviderID,
	)
	created, err := scanGame(row)
	if err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}
	return created, nil
}

// AttachGenres records the game's genres. Replaces nothing; duplicate rows
// are ignored so re-imports stay idempotent.
func (s *Store) AttachGenres(ctx context.Context, gameID string, genres []string) error {
	for _, genre := range genres {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO game_genres (game_id, genre) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			gameID, genre,
		)
		if err != nil {
			return fmt.Errorf("attach genre %q: %w", genre, err)
		}
	}
	return nil
}

// CompanyRef names a company involved with a game and its role.
type CompanyRef struct {
	Name string
	Role string
}

// AttachCompanies records the game's involved companies.
func (s *Store) AttachCompanies(ctx context.Context, gameID string, companies []CompanyRef) error {
	for _, c := range companies {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO game_companies (game_id, company, role) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			gameID, c.Name, c.Role,
		)
		if err != nil {
			return fmt.Errorf("attach company %q: %w", c.Name, err)
		}
	}
	return nil
}

// PlatformRelease is one platform/region release row for a game.
type PlatformRelease struct {
	Platform string
	Region   string
	Released *time.Time
}

// AttachPlatforms records the game's platform releases.
func (s *Store) AttachPlatforms(ctx context.Context, gameID string, releases []PlatformRelease) error {
	for _, r := range releases {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO game_platforms (game_id, platform, region, released)
			 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
			gameID, r.Platform, r.Region, r.Released,
		)
		if err != nil {
			return fmt.Errorf("attach platform %q: %w", r.Platform, err)
		}
	}
	return nil
}

const completionColumns = `completion_id, user_id, game_id, completed_at, completion_type,
	playtime_hours, platform, region, source, created_at, updated_at`

// GetCompletion returns the user's completion record for a game, or nil.
func (s *Store) GetCompletion(ctx context.Context, userID, gameID string) (*Completion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+completionColumns+` FROM completions WHERE user_id = $1 AND game_id = $2`,
		userID, gameID,
	)
	c, err := scanCompletion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get completion: %w", err)
	}
	return c, nil
}

// CreateCompletion inserts a new completion record and returns it.
func (s *Store) CreateCompletion(ctx context.Context, c Completion) (*Completion, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO completions (completion_id, user_id, game_id, completed_at, completion_type,
			playtime_hours, platform, region, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+completionColumns,
		uuid.New().String(), c.UserID, c.GameID, c.CompletedAt, c.CompletionType,
		c.PlaytimeHours, c.Platform, c.Region, c.Source,
	)
	created, err := scanCompletion(row)
	if err != nil {
		return nil, fmt.Errorf("create completion: %w", err)
	}
	return created, nil
}

// UpdateCompletion overwrites the mutable fields of an existing record.
func (s *Store) UpdateCompletion(ctx context.Context, c Completion) (*Completion, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE completions
		 SET completed_at = $2, completion_type = $3, playtime_hours = $4,
		     platform = $5, region = $6, source = $7, updated_at = now()
		 WHERE completion_id = $1
		 RETURNING `+completionColumns,
		c.ID, c.CompletedAt, c.CompletionType, c.PlaytimeHours,
		c.Platform, c.Region, c.Source,
	)
	updated, err := scanCompletion(row)
	if err != nil {
		return nil, fmt.Errorf("update completion %s: %w", c.ID, err)
	}
	return updated, nil
}

func scanGame(row pgx.Row) (*Game, error) {
	var g Game
	err := row.Scan(&g.ID, &g.Title, &g.Summary, &g.CoverURL, &g.ReleaseYear, &g.ProviderID, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scanCompletion(row pgx.Row) (*Completion, error) {
	var c Completion
	err := row.Scan(
		&c.ID, &c.UserID, &c.GameID, &c.CompletedAt, &c.CompletionType,
		&c.PlaytimeHours, &c.Platform, &c.Region, &c.Source, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
