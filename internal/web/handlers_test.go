package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mkarlsen/gamelog/internal/catalog"
	"github.com/mkarlsen/gamelog/internal/config"
	"github.com/mkarlsen/gamelog/internal/importer"
	"github.com/mkarlsen/gamelog/internal/parser"
	"github.com/mkarlsen/gamelog/internal/provider"
	"github.com/mkarlsen/gamelog/internal/store"
)

// ----------------------------------------------------------------------------
// Test fixtures: an importer.Service on in-memory ports behind the router
// ----------------------------------------------------------------------------

type fakeBackend struct {
	mu          sync.Mutex
	sessions    map[string]*store.Session
	items       []*store.Item
	games       []*catalog.Game
	completions []*catalog.Completion
	results     map[string][]provider.Result
	details     map[string]*provider.Detail
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions: make(map[string]*store.Session),
		results:  make(map[string][]provider.Result),
		details:  make(map[string]*provider.Detail),
	}
}

func (f *fakeBackend) addProviderGame(id, title string, year int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := provider.Result{ID: id, Title: title, ReleaseYear: year}
	key := strings.ToLower(title)
	f.results[key] = append(f.results[key], result)
	f.details[id] = &provider.Detail{Result: result}
}

func (f *fakeBackend) CreateSession(ctx context.Context, userID string, totalCount int, sourceFilename string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.sessions {
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
	}
	f.sessions[s.ID] = s
	out := *s
	return &out, nil
}

func (f *fakeBackend) GetActiveSession(ctx context.Context, userID string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.sessions {
		if s.UserID == userID && (s.Status == store.SessionActive || s.Status == store.SessionPaused) {
			out := *s
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) GetSession(ctx context.Context, importID string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[importID]
	if !ok {
		return nil, fmt.Errorf("session %s not found", importID)
	}
	out := *s
	return &out, nil
}

func (f *fakeBackend) SetStatus(ctx context.Context, importID string, status store.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[importID]
	if !ok {
		return fmt.Errorf("session %s not found", importID)
	}
	if !store.ValidTransition(s.Status, status) {
		return fmt.Errorf("invalid transition %s -> %s", s.Status, status)
	}
	s.Status = status
	return nil
}

func (f *fakeBackend) SetCurrentIndex(ctx context.Context, importID string, index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.sessions[importID]; ok {
		s.CurrentIndex = index
	}
	return nil
}

func (f *fakeBackend) BulkInsertItems(ctx context.Context, importID string, items []store.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, item := range items {
		stored := item
		stored.ID = uuid.New().String()
		stored.ImportID = importID
		stored.Status = store.ItemPending
		f.items = append(f.items, &stored)
	}
	return nil
}

func (f *fakeBackend) NextPendingItem(ctx context.Context, importID string) (*store.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var next *store.Item
	for _, item := range f.items {
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

func (f *fakeBackend) UpdateItem(ctx context.Context, itemID string, update store.ItemUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, item := range f.items {
		if item.ID == itemID {
			item.Status = update.Status
			item.CatalogGameID = update.CatalogGameID
			item.CompletionRecordID = update.CompletionRecordID
			item.ErrorText = update.ErrorText
			return nil
		}
	}
	return fmt.Errorf("item %s not found", itemID)
}

func (f *fakeBackend) CountByStatus(ctx context.Context, importID string) (map[store.ItemStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	counts := make(map[store.ItemStatus]int)
	for _, item := range f.items {
		if item.ImportID == importID {
			counts[item.Status]++
		}
	}
	return counts, nil
}

func (f *fakeBackend) SearchByTitle(ctx context.Context, title string) ([]catalog.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var hits []catalog.Game
	for _, g := range f.games {
		if strings.EqualFold(g.Title, title) {
			hits = append(hits, *g)
		}
	}
	return hits, nil
}

func (f *fakeBackend) GetByProviderID(ctx context.Context, providerID string) (*catalog.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, g := range f.games {
		if g.ProviderID != nil && *g.ProviderID == providerID {
			out := *g
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) CreateGame(ctx context.Context, g catalog.Game) (*catalog.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	created := g
	created.ID = uuid.New().String()
	f.games = append(f.games, &created)
	out := created
	return &out, nil
}

func (f *fakeBackend) AttachGenres(ctx context.Context, gameID string, genres []string) error {
	return nil
}

func (f *fakeBackend) AttachCompanies(ctx context.Context, gameID string, companies []catalog.CompanyRef) error {
	return nil
}

func (f *fakeBackend) AttachPlatforms(ctx context.Context, gameID string, releases []catalog.PlatformRelease) error {
	return nil
}

func (f *fakeBackend) GetCompletion(ctx context.Context, userID, gameID string) (*catalog.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.completions {
		if c.UserID == userID && c.GameID == gameID {
			out := *c
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) CreateCompletion(ctx context.Context, c catalog.Completion) (*catalog.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	created := c
	created.ID = uuid.New().String()
	f.completions = append(f.completions, &created)
	out := created
	return &out, nil
}

func (f *fakeBackend) UpdateCompletion(ctx context.Context, c catalog.Completion) (*catalog.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.completions {
		if existing.ID == c.ID {
			*existing = c
			out := c
			return &out, nil
		}
	}
	return nil, fmt.Errorf("completion %s not found", c.ID)
}

func (f *fakeBackend) Search(ctx context.Context, title string) ([]provider.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.results[strings.ToLower(title)], nil
}

func (f *fakeBackend) Fetch(ctx context.Context, id string) (*provider.Detail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.details[id]
	if !ok {
		return nil, &provider.Error{Op: "fetch", Err: fmt.Errorf("unknown id %s", id)}
	}
	out := *d
	return &out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           0,
			RequestTimeout: 5 * time.Second,
		},
		Upload: config.UploadConfig{MaxFileSize: 1 << 20},
		Rate:   config.RateLimitConfig{Enabled: false},
	}
}

func newTestServer(t *testing.T) (*Server, *fakeBackend) {
	t.Helper()

	backend := newFakeBackend()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := importer.NewService(backend, backend, backend, backend,
		importer.Options{PromptTimeout: 5 * time.Second}, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		service.Close(ctx)
	})

	return NewServer(service, testConfig()), backend
}

func multipartUpload(t *testing.T, userID, filename, content string) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if userID != "" {
		if err := mw.WriteField("user_id", userID); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	mw.Close()
	return &body, mw.FormDataContentType()
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

// awaitHTTPPrompt polls the prompt endpoint until the controller is waiting.
func awaitHTTPPrompt(t *testing.T, router http.Handler, userID string) map[string]any {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, router, http.MethodGet, "/api/import/prompt?user_id="+userID, nil)
		if rec.Code == http.StatusOK {
			var prompt map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &prompt); err != nil {
				t.Fatalf("decode prompt: %v", err)
			}
			return prompt
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a prompt")
	return nil
}

const sampleCSV = "Title,Platform,Completed,Type,Playtime\nGame B,SNES,2024-03-01,Finished,12.5\n"

// ----------------------------------------------------------------------------
// Handler Tests
// ----------------------------------------------------------------------------

func TestHandleHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleStart(t *testing.T) {
	srv, backend := newTestServer(t)
	backend.addProviderGame("ext-1", "Game B", 2015)
	backend.addProviderGame("ext-2", "Game B", 2019)

	body, contentType := multipartUpload(t, "user-1", "export.csv", sampleCSV)
	req := httptest.NewRequest(http.MethodPost, "/api/import/start", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ImportID string `json:"import_id"`
		Total    int    `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ImportID == "" || resp.Total != 1 {
		t.Errorf("response = %+v, want import_id and total 1", resp)
	}
}

func TestHandleStart_MissingUser(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "", "export.csv", sampleCSV)
	req := httptest.NewRequest(http.MethodPost, "/api/import/start", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleStart_UnusableFile(t *testing.T) {
	srv, _ := newTestServer(t)

	body, contentType := multipartUpload(t, "user-1", "export.csv", "Platform\nSNES\n")
	req := httptest.NewRequest(http.MethodPost, "/api/import/start", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeError(t, rec); resp.Code != "parse_error" {
		t.Errorf("code = %q, want %q", resp.Code, "parse_error")
	}
}

func TestHandleStart_Conflict(t *testing.T) {
	srv, backend := newTestServer(t)
	backend.addProviderGame("ext-1", "Game B", 2015)
	backend.addProviderGame("ext-2", "Game B", 2019)

	start := func() *httptest.ResponseRecorder {
		body, contentType := multipartUpload(t, "user-1", "export.csv", sampleCSV)
		req := httptest.NewRequest(http.MethodPost, "/api/import/start", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		return rec
	}

	if rec := start(); rec.Code != http.StatusAccepted {
		t.Fatalf("first start status = %d, want 202", rec.Code)
	}
	awaitHTTPPrompt(t, srv.Router(), "user-1")

	rec := start()
	if rec.Code != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeError(t, rec); resp.Code != "session_conflict" {
		t.Errorf("code = %q, want %q", resp.Code, "session_conflict")
	}
}

func TestHandleStatus_NoSession(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Router(), http.MethodGet, "/api/import/status?user_id=nobody", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != "no_active_session" {
		t.Errorf("code = %q, want %q", resp.Code, "no_active_session")
	}

	rec = doJSON(t, srv.Router(), http.MethodGet, "/api/import/status", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status without user_id = %d, want 400", rec.Code)
	}
}

func TestHandlePause_BadBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/import/pause", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSelectConfirmFlowOverHTTP(t *testing.T) {
	srv, backend := newTestServer(t)
	backend.addProviderGame("ext-1", "Game B", 2015)
	backend.addProviderGame("ext-2", "Game B", 2019)

	body, contentType := multipartUpload(t, "user-1", "export.csv", sampleCSV)
	req := httptest.NewRequest(http.MethodPost, "/api/import/start", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, want 202", rec.Code)
	}

	prompt := awaitHTTPPrompt(t, srv.Router(), "user-1")
	if prompt["kind"] != "selection" {
		t.Fatalf("prompt kind = %v, want selection", prompt["kind"])
	}
	promptID, _ := prompt["prompt_id"].(string)
	if promptID == "" {
		t.Fatal("prompt has no prompt_id")
	}

	// A stale prompt id is rejected.
	rec = doJSON(t, srv.Router(), http.MethodPost, "/api/import/select", map[string]any{
		"user_id":   "user-1",
		"prompt_id": "stale-id",
		"choice":    0,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("stale select status = %d, want 409", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != "stale_prompt" {
		t.Errorf("code = %q, want %q", resp.Code, "stale_prompt")
	}

	rec = doJSON(t, srv.Router(), http.MethodPost, "/api/import/select", map[string]any{
		"user_id":   "user-1",
		"prompt_id": promptID,
		"choice":    0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("select status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	confirmation := awaitHTTPPrompt(t, srv.Router(), "user-1")
	if confirmation["kind"] != "confirmation" {
		t.Fatalf("prompt kind = %v, want confirmation", confirmation["kind"])
	}
	confirmID, _ := confirmation["prompt_id"].(string)

	// Malformed date override is rejected before touching the prompt.
	rec = doJSON(t, srv.Router(), http.MethodPost, "/api/import/confirm", map[string]any{
		"user_id":      "user-1",
		"prompt_id":    confirmID,
		"completed_at": "March 1st",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date confirm status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, srv.Router(), http.MethodPost, "/api/import/confirm", map[string]any{
		"user_id":         "user-1",
		"prompt_id":       confirmID,
		"completion_type": "100%",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	// The session drains; it stops answering to the live-session endpoints.
	deadline := time.Now().Add(3 * time.Second)
	for {
		rec = doJSON(t, srv.Router(), http.MethodGet, "/api/import/status?user_id=user-1", nil)
		if rec.Code == http.StatusNotFound {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never completed, last status response: %s", rec.Body.String())
		}
		time.Sleep(5 * time.Millisecond)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.completions) != 1 {
		t.Fatalf("completions = %d, want 1", len(backend.completions))
	}
	if backend.completions[0].CompletionType != "100%" {
		t.Errorf("CompletionType = %q, want %q", backend.completions[0].CompletionType, "100%")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantTag  string
	}{
		{"parse error", &parser.ParseError{Reason: "no header"}, http.StatusUnprocessableEntity, "parse_error"},
		{"conflict", &store.ConflictError{UserID: "u", ExistingID: "i"}, http.StatusConflict, "session_conflict"},
		{"no session", importer.ErrNoActiveSession, http.StatusNotFound, "no_active_session"},
		{"stale prompt", importer.ErrStalePrompt, http.StatusConflict, "stale_prompt"},
		{"invalid choice", importer.ErrInvalidChoice, http.StatusBadRequest, "invalid_choice"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := classify(tt.err)
			if status != tt.wantCode || code != tt.wantTag {
				t.Errorf("classify() = (%d, %q), want (%d, %q)", status, code, tt.wantCode, tt.wantTag)
			}
		})
	}
}
