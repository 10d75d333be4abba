package importer

import (
	"context"
	"sort"
	"strings"

	"github.com/mkarlsen/gamelog/internal/store"
)

// ResolutionKind says how a row's resolution should proceed.
type ResolutionKind int

const (
	// ResolveAuto: exactly one local catalog hit; apply without any prompt.
	ResolveAuto ResolutionKind = iota
	// ResolveConfirm: one unambiguous candidate that still needs the user to
	// confirm completion details (the single-external-result case).
	ResolveConfirm
	// ResolveSelect: several candidates; the user must pick one first.
	ResolveSelect
	// ResolveNone: nothing matched anywhere.
	ResolveNone
)

// Candidate is a catalog entry, existing or to-be-created, proposed as the
// match for a row. Exactly one of GameID and ProviderID is set.
type Candidate struct {
	GameID      string
	ProviderID  string
	Title       string
	ReleaseYear int
	Summary     string
}

// Resolution is the resolver's verdict for one row.
type Resolution struct {
	Kind       ResolutionKind
	Candidates []Candidate // Auto/Confirm: exactly one; Select: two or more
	Reason     string      // None: human-readable explanation
}

// Resolver maps one pending row to zero, one, or many catalog candidates.
// It never mutates catalog or item state.
type Resolver struct {
	catalog  Catalog
	provider MetadataProvider
	pageSize int
}

// NewResolver creates a Resolver. pageSize caps the candidate list presented
// for selection.
func NewResolver(cat Catalog, prov MetadataProvider, pageSize int) *Resolver {
	if pageSize <= 0 {
		pageSize = 5
	}
	return &Resolver{catalog: cat, provider: prov, pageSize: pageSize}
}

// Resolve runs the match algorithm for one item: exact-insensitive local
// search first, falling back to a provider search only when the catalog has
// no hit at all.
func (r *Resolver) Resolve(ctx context.Context, item *store.Item) (*Resolution, error) {
	local, err := r.catalog.SearchByTitle(ctx, item.GameTitle)
	if err != nil {
		return nil, err
	}

	switch {
	case len(local) == 1:
		g := local[0]
		return &Resolution{
			Kind:       ResolveAuto,
			Candidates: []Candidate{{GameID: g.ID, Title: g.Title, ReleaseYear: yearOf(g.ReleaseYear), Summary: g.Summary}},
		}, nil

	case len(local) > 1:
		// Multiple local hits are presented exactly like multiple external
		// ones; no provider query needed.
		candidates := make([]Candidate, 0, len(local))
		for _, g := range local {
			candidates = append(candidates, Candidate{
				GameID:      g.ID,
				Title:       g.Title,
				ReleaseYear: yearOf(g.ReleaseYear),
				Summary:     g.Summary,
			})
		}
		return &Resolution{Kind: ResolveSelect, Candidates: r.rank(item.GameTitle, candidates)}, nil
	}

	external, err := r.provider.Search(ctx, item.GameTitle)
	if err != nil {
		return nil, err
	}

	switch len(external) {
	case 0:
		return &Resolution{
			Kind:   ResolveNone,
			Reason: (&NoMatchError{Title: item.GameTitle}).Error(),
		}, nil

	case 1:
		e := external[0]
		return &Resolution{
			Kind:       ResolveConfirm,
			Candidates: []Candidate{{ProviderID: e.ID, Title: e.Title, ReleaseYear: e.ReleaseYear, Summary: e.Summary}},
		}, nil
	}

	candidates := make([]Candidate, 0, len(external))
	for _, e := range external {
		candidates = append(candidates, Candidate{
			ProviderID:  e.ID,
			Title:       e.Title,
			ReleaseYear: e.ReleaseYear,
			Summary:     e.Summary,
		})
	}
	return &Resolution{Kind: ResolveSelect, Candidates: r.rank(item.GameTitle, candidates)}, nil
}

// rank orders candidates by exact-title match first, then newest release,
// and caps the list at the page size.
func (r *Resolver) rank(title string, candidates []Candidate) []Candidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		ei := strings.EqualFold(candidates[i].Title, title)
		ej := strings.EqualFold(candidates[j].Title, title)
		if ei != ej {
			return ei
		}
		return candidates[i].ReleaseYear > candidates[j].ReleaseYear
	})

	if len(candidates) > r.pageSize {
		candidates = candidates[:r.pageSize]
	}
	return candidates
}

func yearOf(y *int) int {
	if y == nil {
		return 0
	}
	return *y
}
