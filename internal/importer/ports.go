// Package importer drives the resumable completion-record import pipeline:
// resolving export rows against the catalog, prompting the user when a row is
// ambiguous, materializing new catalog entries from the metadata provider,
// and committing per-row outcomes so a session can be paused, resumed, or
// canceled without reprocessing finished rows.
package importer

import (
	"context"

	"github.com/mkarlsen/gamelog/internal/catalog"
	"github.com/mkarlsen/gamelog/internal/provider"
	"github.com/mkarlsen/gamelog/internal/store"
)

// SessionStore persists import session headers.
type SessionStore interface {
	CreateSession(ctx context.Context, userID string, totalCount int, sourceFilename string) (*store.Session, error)
	GetActiveSession(ctx context.Context, userID string) (*store.Session, error)
	GetSession(ctx context.Context, importID string) (*store.Session, error)
	SetStatus(ctx context.Context, importID string, status store.SessionStatus) error
	SetCurrentIndex(ctx context.Context, importID string, index int) error
}

// ItemStore persists the per-row import items.
type ItemStore interface {
	BulkInsertItems(ctx context.Context, importID string, items []store.Item) error
	NextPendingItem(ctx context.Context, importID string) (*store.Item, error)
	UpdateItem(ctx context.Context, itemID string, update store.ItemUpdate) error
	CountByStatus(ctx context.Context, importID string) (map[store.ItemStatus]int, error)
}

// Catalog is the slice of the game catalog this pipeline reads and writes.
type Catalog interface {
	SearchByTitle(ctx context.Context, title string) ([]catalog.Game, error)
	GetByProviderID(ctx context.Context, providerID string) (*catalog.Game, error)
	CreateGame(ctx context.Context, g catalog.Game) (*catalog.Game, error)
	AttachGenres(ctx context.Context, gameID string, genres []string) error
	AttachCompanies(ctx context.Context, gameID string, companies []catalog.CompanyRef) error
	AttachPlatforms(ctx context.Context, gameID string, releases []catalog.PlatformRelease) error
	GetCompletion(ctx context.Context, userID, gameID string) (*catalog.Completion, error)
	CreateCompletion(ctx context.Context, c catalog.Completion) (*catalog.Completion, error)
	UpdateCompletion(ctx context.Context, c catalog.Completion) (*catalog.Completion, error)
}

// MetadataProvider is the external game-metadata service.
type MetadataProvider interface {
	Search(ctx context.Context, title string) ([]provider.Result, error)
	Fetch(ctx context.Context, id string) (*provider.Detail, error)
}
