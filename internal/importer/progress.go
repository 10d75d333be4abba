package importer

import (
	"context"

	"github.com/mkarlsen/gamelog/internal/store"
)

// ProgressReport is a read-only snapshot of a session, safe to compute while
// the import is running.
type ProgressReport struct {
	ImportID       string              `json:"import_id"`
	Status         store.SessionStatus `json:"status"`
	SourceFilename string              `json:"source_filename"`
	TotalCount     int                 `json:"total_count"`
	CurrentIndex   int                 `json:"current_index"`
	Pending        int                 `json:"pending"`
	Imported       int                 `json:"imported"`
	Updated        int                 `json:"updated"`
	Skipped        int                 `json:"skipped"`
	Errored        int                 `json:"errored"`
	AwaitingPrompt bool                `json:"awaiting_prompt"`
}

// Processed counts rows that reached a terminal status.
func (p *ProgressReport) Processed() int {
	return p.Imported + p.Updated + p.Skipped + p.Errored
}

// Status aggregates per-status counts for the user's live session.
func (s *Service) Status(ctx context.Context, userID string) (*ProgressReport, error) {
	sess, err := s.liveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.report(ctx, sess)
}

// StatusOf aggregates per-status counts for a specific session, live or not.
func (s *Service) StatusOf(ctx context.Context, importID string) (*ProgressReport, error) {
	sess, err := s.sessions.GetSession(ctx, importID)
	if err != nil {
		return nil, err
	}
	return s.report(ctx, sess)
}

func (s *Service) report(ctx context.Context, sess *store.Session) (*ProgressReport, error) {
	counts, err := s.items.CountByStatus(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	return &ProgressReport{
		ImportID:       sess.ID,
		Status:         sess.Status,
		SourceFilename: sess.SourceFilename,
		TotalCount:     sess.TotalCount,
		CurrentIndex:   sess.CurrentIndex,
		Pending:        counts[store.ItemPending],
		Imported:       counts[store.ItemImported],
		Updated:        counts[store.ItemUpdated],
		Skipped:        counts[store.ItemSkipped],
		Errored:        counts[store.ItemError],
		AwaitingPrompt: s.registry.CurrentPrompt(sess.UserID) != nil,
	}, nil
}
