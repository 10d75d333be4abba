package importer

// In-memory fakes for the pipeline's ports. They mirror the store semantics
// the controller depends on: single-statement mutations, lowest-PENDING
// ordering, and the one-live-session-per-user guard.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mkarlsen/gamelog/internal/catalog"
	"github.com/mkarlsen/gamelog/internal/provider"
	"github.com/mkarlsen/gamelog/internal/store"
)

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*store.Session
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]*store.Session)}
}

func (m *memSessions) CreateSession(ctx context.Context, userID string, totalCount int, sourceFilename string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.UserID == userID && (s.Status == store.SessionActive || s.Status == store.SessionPaused) {
			return nil, &store.ConflictError{UserID: userID, ExistingID: s.ID}
		}
	}

	s := &store.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		Status:         store.SessionActive,
		TotalCount:     totalCount,
		SourceFilename: sourceFilename,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	m.sessions[s.ID] = s
	out := *s
	return &out, nil
}

func (m *memSessions) GetActiveSession(ctx context.Context, userID string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.UserID == userID && (s.Status == store.SessionActive || s.Status == store.SessionPaused) {
			out := *s
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memSessions) GetSession(ctx context.Context, importID string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[importID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", importID)
	}
	out := *s
	return &out, nil
}

func (m *memSessions) SetStatus(ctx context.Context, importID string, status store.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[importID]
	if !ok {
		return fmt.Errorf("session %s not found", importID)
	}
	if !store.ValidTransition(s.Status, status) {
		return fmt.Errorf("invalid transition %s -> %s", s.Status, status)
	}
	s.Status = status
	s.UpdatedAt = time.Now()
	return nil
}

func (m *memSessions) SetCurrentIndex(ctx context.Context, importID string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[importID]; ok {
		s.CurrentIndex = index
	}
	return nil
}

type memItems struct {
	mu    sync.Mutex
	items []*store.Item
}

func newMemItems() *memItems { return &memItems{} }

func (m *memItems) BulkInsertItems(ctx context.Context, importID string, items []store.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range items {
		stored := item
		stored.ID = uuid.New().String()
		stored.ImportID = importID
		stored.Status = store.ItemPending
		m.items = append(m.items, &stored)
	}
	return nil
}

func (m *memItems) NextPendingItem(ctx context.Context, importID string) (*store.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *store.Item
	for _, item := range m.items {
		if item.ImportID != importID || item.Status != store.ItemPending {
			continue
		}
		if next == nil || item.RowIndex < next.RowIndex {
			next = item
		}
	}
	if next == nil {
		return nil, nil
	}
	out := *next
	return &out, nil
}

func (m *memItems) UpdateItem(ctx context.Context, itemID string, update store.ItemUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.items {
		if item.ID != itemID {
			continue
		}
		if item.Status != store.ItemPending {
			return fmt.Errorf("item %s is not pending", itemID)
		}
		item.Status = update.Status
		item.CatalogGameID = update.CatalogGameID
		item.CompletionRecordID = update.CompletionRecordID
		item.ErrorText = update.ErrorText
		return nil
	}
	return fmt.Errorf("item %s not found", itemID)
}

func (m *memItems) CountByStatus(ctx context.Context, importID string) (map[store.ItemStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[store.ItemStatus]int)
	for _, item := range m.items {
		if item.ImportID == importID {
			counts[item.Status]++
		}
	}
	return counts, nil
}

// byIndex returns a copy of the item at rowIndex for assertions.
func (m *memItems) byIndex(importID string, rowIndex int) *store.Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range m.items {
		if item.ImportID == importID && item.RowIndex == rowIndex {
			out := *item
			return &out
		}
	}
	return nil
}

type memCatalog struct {
	mu          sync.Mutex
	games       []*catalog.Game
	completions []*catalog.Completion

	failGenres    bool
	failCompanies bool
	failPlatforms bool
}

func newMemCatalog() *memCatalog { return &memCatalog{} }

func (m *memCatalog) addGame(title, providerID string) *catalog.Game {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := &catalog.Game{ID: uuid.New().String(), Title: title}
	if providerID != "" {
		g.ProviderID = &providerID
	}
	m.games = append(m.games, g)
	out := *g
	return &out
}

func (m *memCatalog) SearchByTitle(ctx context.Context, title string) ([]catalog.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var hits []catalog.Game
	for _, g := range m.games {
		if equalFold(g.Title, title) {
			hits = append(hits, *g)
		}
	}
	return hits, nil
}

func (m *memCatalog) GetByProviderID(ctx context.Context, providerID string) (*catalog.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, g := range m.games {
		if g.ProviderID != nil && *g.ProviderID == providerID {
			out := *g
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memCatalog) CreateGame(ctx context.Context, g catalog.Game) (*catalog.Game, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	created := g
	created.ID = uuid.New().String()
	created.CreatedAt = time.Now()
	m.games = append(m.games, &created)
	out := created
	return &out, nil
}

func (m *memCatalog) AttachGenres(ctx context.Context, gameID string, genres []string) error {
	if m.failGenres {
		return errors.New("genres table unavailable")
	}
	return nil
}

func (m *memCatalog) AttachCompanies(ctx context.Context, gameID string, companies []catalog.CompanyRef) error {
	if m.failCompanies {
		return errors.New("companies table unavailable")
	}
	return nil
}

func (m *memCatalog) AttachPlatforms(ctx context.Context, gameID string, releases []catalog.PlatformRelease) error {
	if m.failPlatforms {
		return errors.New("platforms table unavailable")
	}
	return nil
}

func (m *memCatalog) GetCompletion(ctx context.Context, userID, gameID string) (*catalog.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.completions {
		if c.UserID == userID && c.GameID == gameID {
			out := *c
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memCatalog) CreateCompletion(ctx context.Context, c catalog.Completion) (*catalog.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	created := c
	created.ID = uuid.New().String()
	created.CreatedAt = time.Now()
	created.UpdatedAt = created.CreatedAt
	m.completions = append(m.completions, &created)
	out := created
	return &out, nil
}

func (m *memCatalog) UpdateCompletion(ctx context.Context, c catalog.Completion) (*catalog.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.completions {
		if existing.ID == c.ID {
			c.UpdatedAt = time.Now()
			*existing = c
			out := c
			return &out, nil
		}
	}
	return nil, fmt.Errorf("completion %s not found", c.ID)
}

func (m *memCatalog) completionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completions)
}

func (m *memCatalog) gameCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.games)
}

type memProvider struct {
	mu      sync.Mutex
	results map[string][]provider.Result
	details map[string]*provider.Detail

	searchErr error
	fetchErr  error
}

func newMemProvider() *memProvider {
	return &memProvider{
		results: make(map[string][]provider.Result),
		details: make(map[string]*provider.Detail),
	}
}

func (m *memProvider) Search(ctx context.Context, title string) ([]provider.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.results[lower(title)], nil
}

func (m *memProvider) Fetch(ctx context.Context, id string) (*provider.Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	d, ok := m.details[id]
	if !ok {
		return nil, &provider.Error{Op: "fetch", Err: fmt.Errorf("unknown id %s", id)}
	}
	out := *d
	return &out, nil
}

func (m *memProvider) addGame(id, title string, year int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := provider.Result{ID: id, Title: title, ReleaseYear: year}
	m.results[lower(title)] = append(m.results[lower(title)], result)
	m.details[id] = &provider.Detail{
		Result:   result,
		CoverURL: "https://covers.example.com/" + id,
		Genres:   []string{"Adventure"},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls until cond holds, failing the test after a generous deadline.
// Controller goroutines have no completion signal by design, so tests observe
// their effects through the stores.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func equalFold(a, b string) bool { return lower(a) == lower(b) }

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}
