package importer

import (
	"context"
	"log/slog"
	"time"

	"github.com/mkarlsen/gamelog/internal/catalog"
	"github.com/mkarlsen/gamelog/internal/provider"
)

// AttachReport says which secondary metadata attachments succeeded after a
// catalog import. The primary entry is always created when Import returns
// nil; a false field here means that attachment failed and was logged, not
// that the import failed.
type AttachReport struct {
	Genres    bool
	Companies bool
	Platforms bool
}

// Partial reports whether any secondary attachment failed.
func (r AttachReport) Partial() bool {
	return !r.Genres || !r.Companies || !r.Platforms
}

// Adapter materializes catalog entries from the external metadata provider.
type Adapter struct {
	catalog  Catalog
	provider MetadataProvider
	log      *slog.Logger
}

// NewAdapter creates an Adapter.
func NewAdapter(cat Catalog, prov MetadataProvider, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{catalog: cat, provider: prov, log: log}
}

// Import returns the local catalog entry for the given provider id, creating
// it from provider metadata when it does not exist yet. The check-then-insert
// is keyed on the provider id, so importing the same game twice yields the
// same entry.
//
// Secondary metadata (genres, companies, platform releases) is attached
// best-effort: a failure there is logged and reflected in the AttachReport
// but never fails the primary import.
func (a *Adapter) Import(ctx context.Context, providerID string) (*catalog.Game, AttachReport, error) {
	full := AttachReport{Genres: true, Companies: true, Platforms: true}

	if existing, err := a.catalog.GetByProviderID(ctx, providerID); err != nil {
		return nil, AttachReport{}, err
	} else if existing != nil {
		return existing, full, nil
	}

	detail, err := a.provider.Fetch(ctx, providerID)
	if err != nil {
		return nil, AttachReport{}, err
	}

	var releaseYear *int
	if detail.ReleaseYear > 0 {
		releaseYear = &detail.ReleaseYear
	}

	game, err := a.catalog.CreateGame(ctx, catalog.Game{
		Title:       detail.Title,
		Summary:     detail.Summary,
		CoverURL:    detail.CoverURL,
		ReleaseYear: releaseYear,
		ProviderID:  &detail.ID,
	})
	if err != nil {
		return nil, AttachReport{}, err
	}

	return game, a.attachSecondary(ctx, game.ID, detail), nil
}

func (a *Adapter) attachSecondary(ctx context.Context, gameID string, detail *provider.Detail) AttachReport {
	report := AttachReport{Genres: true, Companies: true, Platforms: true}

	if err := a.catalog.AttachGenres(ctx, gameID, detail.Genres); err != nil {
		a.log.Warn("attach genres failed", "game_id", gameID, "error", err)
		report.Genres = false
	}

	companies := make([]catalog.CompanyRef, 0, len(detail.Companies))
	for _, c := range detail.Companies {
		companies = append(companies, catalog.CompanyRef{Name: c.Name, Role: c.Role})
	}
	if err := a.catalog.AttachCompanies(ctx, gameID, companies); err != nil {
		a.log.Warn("attach companies failed", "game_id", gameID, "error", err)
		report.Companies = false
	}

	releases := make([]catalog.PlatformRelease, 0, len(detail.Releases))
	for _, r := range detail.Releases {
		releases = append(releases, catalog.PlatformRelease{
			Platform: r.Platform,
			Region:   r.Region,
			Released: parseReleaseDate(r.Released),
		})
	}
	if err := a.catalog.AttachPlatforms(ctx, gameID, releases); err != nil {
		a.log.Warn("attach platforms failed", "game_id", gameID, "error", err)
		report.Platforms = false
	}

	return report
}

func parseReleaseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
