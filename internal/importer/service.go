package importer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkarlsen/gamelog/internal/parser"
	"github.com/mkarlsen/gamelog/internal/store"
)

// Options tune the import pipeline.
type Options struct {
	// PromptTimeout bounds how long a selection/confirmation prompt waits
	// before the controller suspends with the row left PENDING.
	PromptTimeout time.Duration
	// CandidatePageSize caps the candidate list presented for selection.
	CandidatePageSize int
	// RegistryTTL evicts suspended sessions from the in-memory registry.
	RegistryTTL time.Duration
}

// Service is the command surface of the import pipeline: start, status,
// pause, resume, cancel, plus the interactive select/confirm/skip exchange.
// It owns the controller goroutines; the transport in front of it stays
// unaware of any of the state machinery.
type Service struct {
	sessions   SessionStore
	items      ItemStore
	registry   *Registry
	controller *Controller
	log        *slog.Logger

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService wires the pipeline. The registry is created here and torn down
// by Close.
func NewService(sessions SessionStore, items ItemStore, cat Catalog, prov MetadataProvider, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.PromptTimeout <= 0 {
		opts.PromptTimeout = 2 * time.Minute
	}
	if opts.RegistryTTL <= 0 {
		opts.RegistryTTL = time.Hour
	}

	registry := NewRegistry(opts.RegistryTTL)
	resolver := NewResolver(cat, prov, opts.CandidatePageSize)
	adapter := NewAdapter(cat, prov, log)

	runCtx, cancel := context.WithCancel(context.Background())

	return &Service{
		sessions:   sessions,
		items:      items,
		registry:   registry,
		controller: NewController(sessions, items, cat, resolver, adapter, registry, opts.PromptTimeout, log),
		log:        log,
		runCtx:     runCtx,
		cancel:     cancel,
	}
}

// Close suspends all running controllers and stops the registry janitor.
// In-flight rows are left PENDING and resume cleanly on the next start-up.
func (s *Service) Close(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.registry.Close()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("import controllers did not stop in time: %w", ctx.Err())
	}
}

// Start parses the export file, creates the session with all rows PENDING,
// and kicks off the review loop. Fails with a parser.ParseError when the
// file is unusable (no session is created) and a store.ConflictError when
// the user already has a live session.
func (s *Service) Start(ctx context.Context, userID, filename string, data []byte) (*store.Session, error) {
	rows, err := parser.Parse(bytes.NewReader(data), filename)
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.CreateSession(ctx, userID, len(rows), filename)
	if err != nil {
		return nil, err
	}

	items := make([]store.Item, len(rows))
	for i, row := range rows {
		items[i] = itemFromRow(row)
	}
	if err := s.items.BulkInsertItems(ctx, sess.ID, items); err != nil {
		return nil, fmt.Errorf("ingest rows: %w", err)
	}

	s.log.Info("import session started",
		"import_id", sess.ID,
		"user_id", userID,
		"file", filename,
		"rows", len(rows),
	)

	s.spawn(sess.ID, userID)
	return sess, nil
}

// Pause stops the review loop before its next row. A row already being
// applied finishes; a row awaiting a prompt stays PENDING.
func (s *Service) Pause(ctx context.Context, userID string) error {
	sess, err := s.liveSession(ctx, userID)
	if err != nil {
		return err
	}
	if sess.Status == store.SessionPaused {
		return nil
	}
	if err := s.sessions.SetStatus(ctx, sess.ID, store.SessionPaused); err != nil {
		return err
	}
	s.log.Info("import session paused", "import_id", sess.ID, "user_id", userID)
	return nil
}

// Resume re-activates a paused (or suspended) session. The review loop
// always restarts at the lowest-indexed PENDING row, regardless of how the
// previous run stopped. Resuming an already-running session is a no-op.
func (s *Service) Resume(ctx context.Context, userID string) error {
	sess, err := s.liveSession(ctx, userID)
	if err != nil {
		return err
	}

	if sess.Status == store.SessionPaused {
		if err := s.sessions.SetStatus(ctx, sess.ID, store.SessionActive); err != nil {
			return err
		}
	}

	if s.registry.Running(userID) {
		return nil
	}

	s.log.Info("import session resumed", "import_id", sess.ID, "user_id", userID)
	s.spawn(sess.ID, userID)
	return nil
}

// Cancel terminates the session immediately. Any outstanding prompt becomes
// stale: a late answer is rejected, never applied.
func (s *Service) Cancel(ctx context.Context, userID string) error {
	sess, err := s.liveSession(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.sessions.SetStatus(ctx, sess.ID, store.SessionCanceled); err != nil {
		return err
	}
	s.registry.remove(userID)
	s.log.Info("import session canceled", "import_id", sess.ID, "user_id", userID)
	return nil
}

// Prompt returns the user's outstanding prompt, or nil when the controller
// is not waiting on them.
func (s *Service) Prompt(ctx context.Context, userID string) (*Prompt, error) {
	if _, err := s.liveSession(ctx, userID); err != nil {
		return nil, err
	}
	return s.registry.CurrentPrompt(userID), nil
}

// Select answers a selection prompt with the index of the chosen candidate.
func (s *Service) Select(ctx context.Context, userID, promptID string, choice int) error {
	p := s.registry.CurrentPrompt(userID)
	if p == nil || p.ID != promptID || p.Kind != PromptSelection {
		return ErrStalePrompt
	}
	if choice < 0 || choice >= len(p.Candidates) {
		return fmt.Errorf("%w: choice %d of %d candidates", ErrInvalidChoice, choice, len(p.Candidates))
	}
	return s.registry.Resolve(userID, promptID, Answer{Choice: choice})
}

// Confirm answers a confirmation prompt. details may be nil to accept the
// values prefilled from the export row.
func (s *Service) Confirm(ctx context.Context, userID, promptID string, details *ConfirmDetails) error {
	p := s.registry.CurrentPrompt(userID)
	if p == nil || p.ID != promptID || p.Kind != PromptConfirmation {
		return ErrStalePrompt
	}
	return s.registry.Resolve(userID, promptID, Answer{Details: details})
}

// Skip answers either prompt kind by skipping the row.
func (s *Service) Skip(ctx context.Context, userID, promptID string) error {
	p := s.registry.CurrentPrompt(userID)
	if p == nil || p.ID != promptID {
		return ErrStalePrompt
	}
	return s.registry.Resolve(userID, promptID, Answer{Skip: true})
}

// spawn starts the controller goroutine for a session, tracked for shutdown.
func (s *Service) spawn(importID, userID string) {
	if !s.registry.insert(userID, importID) {
		return // already running
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.controller.Run(s.runCtx, importID, userID)
	}()
}

// liveSession fetches the user's ACTIVE or PAUSED session.
func (s *Service) liveSession(ctx context.Context, userID string) (*store.Session, error) {
	sess, err := s.sessions.GetActiveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoActiveSession
	}
	return sess, nil
}

// itemFromRow converts a parsed export row into a PENDING item, normalizing
// the date and playtime fields best-effort.
func itemFromRow(row parser.Row) store.Item {
	item := store.Item{
		RowIndex:       row.Index,
		GameTitle:      row.GameTitle,
		PlatformName:   row.PlatformName,
		RegionName:     row.RegionName,
		SourceType:     row.SourceType,
		TimeText:       row.TimeText,
		CompletionType: row.CompletionType,
		Status:         store.ItemPending,
	}
	if t, ok := parser.ParseCompletionDate(row.CompletedAt); ok {
		item.CompletedAt = &t
	}
	if h, ok := parser.ParsePlaytime(row.PlaytimeHours); ok {
		item.PlaytimeHours = &h
	} else if h, ok := parser.ParsePlaytime(row.TimeText); ok {
		item.PlaytimeHours = &h
	}
	return item
}
