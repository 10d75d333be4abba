package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema statements are idempotent so Migrate can run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS import_sessions (
		import_id       UUID PRIMARY KEY,
		user_id         TEXT NOT NULL,
		status          TEXT NOT NULL,
		current_index   INT NOT NULL DEFAULT 0,
		total_count     INT NOT NULL,
		source_filename TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	// Backstop for the check-then-create session guard: a concurrent second
	// start degrades to a unique violation instead of a duplicate session.
	`CREATE UNIQUE INDEX IF NOT EXISTS import_sessions_one_live_per_user
		ON import_sessions (user_id)
		WHERE status IN ('ACTIVE', 'PAUSED')`,

	`CREATE TABLE IF NOT EXISTS import_items (
		item_id              UUID PRIMARY KEY,
		import_id            UUID NOT NULL REFERENCES import_sessions(import_id),
		row_index            INT NOT NULL,
		game_title           TEXT NOT NULL,
		platform_name        TEXT NOT NULL DEFAULT '',
		region_name          TEXT NOT NULL DEFAULT '',
		source_type          TEXT NOT NULL DEFAULT '',
		time_text            TEXT NOT NULL DEFAULT '',
		completed_at         DATE,
		completion_type      TEXT NOT NULL DEFAULT '',
		playtime_hours       DOUBLE PRECISION,
		status               TEXT NOT NULL DEFAULT 'PENDING',
		catalog_game_id      UUID,
		completion_record_id UUID,
		error_text           TEXT,
		UNIQUE (import_id, row_index)
	)`,

	// Backs the next-pending lookup (lowest row_index with status PENDING).
	`CREATE INDEX IF NOT EXISTS import_items_pending
		ON import_items (import_id, status, row_index)`,

	`CREATE TABLE IF NOT EXISTS games (
		game_id      UUID PRIMARY KEY,
		title        TEXT NOT NULL,
		summary      TEXT NOT NULL DEFAULT '',
		cover_url    TEXT NOT NULL DEFAULT '',
		release_year INT,
		provider_id  TEXT UNIQUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS games_title_lower ON games (LOWER(title))`,

	`CREATE TABLE IF NOT EXISTS game_genres (
		game_id UUID NOT NULL REFERENCES games(game_id),
		genre   TEXT NOT NULL,
		PRIMARY KEY (game_id, genre)
	)`,

	`CREATE TABLE IF NOT EXISTS game_companies (
		game_id UUID NOT NULL REFERENCES games(game_id),
		company TEXT NOT NULL,
		role    TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (game_id, company)
	)`,

	`CREATE TABLE IF NOT EXISTS game_platforms (
		game_id  UUID NOT NULL REFERENCES games(game_id),
		platform TEXT NOT NULL,
		region   TEXT NOT NULL DEFAULT '',
		released DATE,
		PRIMARY KEY (game_id, platform, region)
	)`,

	`CREATE TABLE IF NOT EXISTS completions (
		completion_id   UUID PRIMARY KEY,
		user_id         TEXT NOT NULL,
		game_id         UUID NOT NULL REFERENCES games(game_id),
		completed_at    DATE,
		completion_type TEXT NOT NULL DEFAULT '',
		playtime_hours  DOUBLE PRECISION,
		platform        TEXT NOT NULL DEFAULT '',
		region          TEXT NOT NULL DEFAULT '',
		source          TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_id, game_id)
	)`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
