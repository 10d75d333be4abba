package importer

import (
	"context"
	"log/slog"
	"time"

	"github.com/mkarlsen/gamelog/internal/catalog"
	"github.com/mkarlsen/gamelog/internal/store"
)

// stepResult says how the controller should proceed after one row.
type stepResult int

const (
	stepAdvanced  stepResult = iota // row reached a terminal status, keep going
	stepSuspended                   // row left PENDING, stop until resume
)

// Controller drives one session's rows through resolution, interactive
// confirmation, and status commit. It is the only component that advances
// session progress, and it processes exactly one row at a time.
type Controller struct {
	sessions      SessionStore
	items         ItemStore
	catalog       Catalog
	resolver      *Resolver
	adapter       *Adapter
	registry      *Registry
	promptTimeout time.Duration
	log           *slog.Logger
}

// NewController wires a Controller.
func NewController(
	sessions SessionStore,
	items ItemStore,
	cat Catalog,
	resolver *Resolver,
	adapter *Adapter,
	registry *Registry,
	promptTimeout time.Duration,
	log *slog.Logger,
) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		sessions:      sessions,
		items:         items,
		catalog:       cat,
		resolver:      resolver,
		adapter:       adapter,
		registry:      registry,
		promptTimeout: promptTimeout,
		log:           log,
	}
}

// Run loops over the session's pending rows, lowest row index first, until
// the session drains, is paused or canceled, or a prompt times out. It is
// meant to run on its own goroutine; the registry handle for the user must
// already exist.
func (c *Controller) Run(ctx context.Context, importID, userID string) {
	log := c.log.With("import_id", importID, "user_id", userID)

	for {
		sess, err := c.sessions.GetSession(ctx, importID)
		if err != nil {
			log.Error("load session failed, suspending", "error", err)
			c.registry.suspend(userID)
			return
		}

		switch sess.Status {
		case store.SessionActive:
			// keep going
		case store.SessionPaused:
			log.Info("session paused, suspending")
			c.registry.suspend(userID)
			return
		default: // CANCELED or COMPLETE
			log.Info("session reached terminal status", "status", sess.Status)
			c.registry.remove(userID)
			return
		}

		item, err := c.items.NextPendingItem(ctx, importID)
		if err != nil {
			log.Error("load next pending item failed, suspending", "error", err)
			c.registry.suspend(userID)
			return
		}
		if item == nil {
			// DRAINED
			if err := c.sessions.SetStatus(ctx, importID, store.SessionComplete); err != nil {
				log.Error("mark session complete failed", "error", err)
			}
			log.Info("session complete")
			c.registry.remove(userID)
			return
		}

		if c.step(ctx, sess, item) == stepSuspended {
			log.Info("suspending at row", "row_index", item.RowIndex)
			c.registry.suspend(userID)
			return
		}

		// ADVANCING: the cursor is advisory; resume authority stays with the
		// lowest-PENDING query above.
		if err := c.sessions.SetCurrentIndex(ctx, importID, item.RowIndex+1); err != nil {
			log.Warn("advance cursor failed", "error", err)
		}
	}
}

// step takes one row from resolution to a terminal status, or leaves it
// PENDING when the user does not respond in time.
func (c *Controller) step(ctx context.Context, sess *store.Session, item *store.Item) stepResult {
	log := c.log.With("import_id", sess.ID, "row_index", item.RowIndex, "title", item.GameTitle)

	res, err := c.resolver.Resolve(ctx, item)
	if err != nil {
		// Provider/search failure is a row-level failure, never a session one.
		c.markError(ctx, item, err.Error())
		log.Warn("row resolution failed", "error", err)
		return stepAdvanced
	}

	switch res.Kind {
	case ResolveNone:
		c.markError(ctx, item, res.Reason)
		log.Info("row had no match", "outcome", store.ItemError)
		return stepAdvanced

	case ResolveAuto:
		c.apply(ctx, sess, item, res.Candidates[0], detailsFromItem(item), log)
		return stepAdvanced

	case ResolveConfirm:
		return c.confirmAndApply(ctx, sess, item, res.Candidates[0], log)

	default: // ResolveSelect
		chosen, outcome := c.awaitSelection(ctx, sess, item, res.Candidates)
		switch outcome {
		case answerSuspend:
			return stepSuspended
		case answerSkip:
			c.markSkipped(ctx, item, log)
			return stepAdvanced
		}
		return c.confirmAndApply(ctx, sess, item, chosen, log)
	}
}

// confirmAndApply runs the confirmation prompt for a chosen candidate and,
// on confirm, applies it.
func (c *Controller) confirmAndApply(ctx context.Context, sess *store.Session, item *store.Item, cand Candidate, log *slog.Logger) stepResult {
	details, outcome := c.awaitConfirmation(ctx, sess, item, cand)
	switch outcome {
	case answerSuspend:
		return stepSuspended
	case answerSkip:
		c.markSkipped(ctx, item, log)
		return stepAdvanced
	}
	c.apply(ctx, sess, item, cand, details, log)
	return stepAdvanced
}

// answerOutcome classifies a prompt exchange.
type answerOutcome int

const (
	answerAccepted answerOutcome = iota
	answerSkip
	answerSuspend
)

// awaitSelection publishes a selection prompt and waits for the pick.
func (c *Controller) awaitSelection(ctx context.Context, sess *store.Session, item *store.Item, candidates []Candidate) (Candidate, answerOutcome) {
	p := newPrompt(sess.ID, sess.UserID, PromptSelection, item.RowIndex, item.GameTitle)
	p.Candidates = candidates
	p.Details = detailsFromItem(item)

	ans, ok := c.await(ctx, p)
	if !ok || !c.sessionStillActive(ctx, sess.ID) {
		return Candidate{}, answerSuspend
	}
	if ans.Skip {
		return Candidate{}, answerSkip
	}
	if ans.Choice < 0 || ans.Choice >= len(candidates) {
		// Defended again here even though the command surface validates the
		// index against the live prompt.
		return Candidate{}, answerSkip
	}
	return candidates[ans.Choice], answerAccepted
}

// awaitConfirmation publishes a confirmation prompt and waits for the answer.
func (c *Controller) awaitConfirmation(ctx context.Context, sess *store.Session, item *store.Item, cand Candidate) (ConfirmDetails, answerOutcome) {
	p := newPrompt(sess.ID, sess.UserID, PromptConfirmation, item.RowIndex, item.GameTitle)
	p.Candidate = &cand
	p.Details = detailsFromItem(item)

	ans, ok := c.await(ctx, p)
	if !ok || !c.sessionStillActive(ctx, sess.ID) {
		return ConfirmDetails{}, answerSuspend
	}
	if ans.Skip {
		return ConfirmDetails{}, answerSkip
	}

	details := p.Details
	if ans.Details != nil {
		details = *ans.Details
	}
	return details, answerAccepted
}

// await blocks until the prompt is answered, times out, or the session's
// handle is torn down. A timeout leaves the row PENDING by design: rows that
// need more user attention suspend the import instead of failing it.
func (c *Controller) await(ctx context.Context, p *Prompt) (Answer, bool) {
	stop := c.registry.setPrompt(p.UserID, p)

	timer := time.NewTimer(c.promptTimeout)
	defer timer.Stop()

	select {
	case ans := <-p.answer:
		return ans, true

	case <-timer.C:
		if !c.registry.clearPrompt(p.UserID, p.ID) {
			// Lost the race with a resolver: the answer is already buffered.
			select {
			case ans := <-p.answer:
				return ans, true
			default:
			}
		}
		return Answer{}, false

	case <-stop:
		return Answer{}, false

	case <-ctx.Done():
		c.registry.clearPrompt(p.UserID, p.ID)
		return Answer{}, false
	}
}

// sessionStillActive re-reads the session after a prompt resolves. A late
// answer for a canceled session must be ignored, not applied.
func (c *Controller) sessionStillActive(ctx context.Context, importID string) bool {
	sess, err := c.sessions.GetSession(ctx, importID)
	if err != nil {
		return false
	}
	return sess.Status == store.SessionActive
}

// apply commits the chosen candidate: materializes a new catalog entry when
// needed, creates or updates the user's completion record, and writes the
// item's terminal status. Any failure here marks the item ERROR and the
// session moves on.
func (c *Controller) apply(ctx context.Context, sess *store.Session, item *store.Item, cand Candidate, details ConfirmDetails, log *slog.Logger) {
	gameID := cand.GameID

	if cand.ProviderID != "" {
		game, report, err := c.adapter.Import(ctx, cand.ProviderID)
		if err != nil {
			c.markError(ctx, item, err.Error())
			log.Warn("catalog import failed", "provider_id", cand.ProviderID, "error", err)
			return
		}
		if report.Partial() {
			log.Warn("catalog entry created with partial metadata",
				"game_id", game.ID,
				"genres", report.Genres,
				"companies", report.Companies,
				"platforms", report.Platforms,
			)
		}
		gameID = game.ID
	}

	existing, err := c.catalog.GetCompletion(ctx, sess.UserID, gameID)
	if err != nil {
		c.markError(ctx, item, err.Error())
		log.Warn("load completion record failed", "error", err)
		return
	}

	var (
		record *catalog.Completion
		status store.ItemStatus
	)
	if existing == nil {
		record, err = c.catalog.CreateCompletion(ctx, catalog.Completion{
			UserID:         sess.UserID,
			GameID:         gameID,
			CompletedAt:    details.CompletedAt,
			CompletionType: details.CompletionType,
			PlaytimeHours:  details.PlaytimeHours,
			Platform:       item.PlatformName,
			Region:         item.RegionName,
			Source:         item.SourceType,
		})
		status = store.ItemImported
	} else {
		existing.CompletedAt = details.CompletedAt
		existing.CompletionType = details.CompletionType
		existing.PlaytimeHours = details.PlaytimeHours
		existing.Platform = item.PlatformName
		existing.Region = item.RegionName
		existing.Source = item.SourceType
		record, err = c.catalog.UpdateCompletion(ctx, *existing)
		status = store.ItemUpdated
	}
	if err != nil {
		c.markError(ctx, item, err.Error())
		log.Warn("write completion record failed", "error", err)
		return
	}

	update := store.ItemUpdate{
		Status:             status,
		CatalogGameID:      &gameID,
		CompletionRecordID: &record.ID,
	}
	if err := c.items.UpdateItem(ctx, item.ID, update); err != nil {
		log.Error("commit item status failed", "error", err)
		return
	}
	log.Info("row applied", "outcome", status, "game_id", gameID)
}

func (c *Controller) markSkipped(ctx context.Context, item *store.Item, log *slog.Logger) {
	if err := c.items.UpdateItem(ctx, item.ID, store.ItemUpdate{Status: store.ItemSkipped}); err != nil {
		log.Error("commit skip failed", "error", err)
		return
	}
	log.Info("row skipped", "outcome", store.ItemSkipped)
}

func (c *Controller) markError(ctx context.Context, item *store.Item, text string) {
	update := store.ItemUpdate{Status: store.ItemError, ErrorText: &text}
	if err := c.items.UpdateItem(context.WithoutCancel(ctx), item.ID, update); err != nil {
		c.log.Error("commit item error failed", "item_id", item.ID, "error", err)
	}
}

// detailsFromItem prefills confirmation details from the export row.
func detailsFromItem(item *store.Item) ConfirmDetails {
	return ConfirmDetails{
		CompletionType: item.CompletionType,
		CompletedAt:    item.CompletedAt,
		PlaytimeHours:  item.PlaytimeHours,
	}
}
