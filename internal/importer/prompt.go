package importer

import (
	"time"

	"github.com/google/uuid"
)

// PromptKind distinguishes what the controller is waiting for.
type PromptKind string

const (
	// PromptSelection asks the user to pick one candidate (or skip).
	PromptSelection PromptKind = "selection"
	// PromptConfirmation asks the user to confirm completion details for an
	// already-chosen candidate (or skip).
	PromptConfirmation PromptKind = "confirmation"
)

// ConfirmDetails are the completion fields shown for confirmation, prefilled
// from the export row. The user may override any of them in the answer.
type ConfirmDetails struct {
	CompletionType string     `json:"completion_type"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	PlaytimeHours  *float64   `json:"playtime_hours,omitempty"`
}

// Prompt is one outstanding question to the user. A session has at most one
// prompt open at a time.
type Prompt struct {
	ID         string         `json:"prompt_id"`
	ImportID   string         `json:"import_id"`
	UserID     string         `json:"user_id"`
	Kind       PromptKind     `json:"kind"`
	RowIndex   int            `json:"row_index"`
	GameTitle  string         `json:"game_title"`
	Candidates []Candidate    `json:"candidates,omitempty"` // selection
	Candidate  *Candidate     `json:"candidate,omitempty"`  // confirmation
	Details    ConfirmDetails `json:"details"`

	// answer is buffered so a resolver never blocks on a controller that has
	// already moved on.
	answer chan Answer
}

// Answer is the user's response to a prompt.
type Answer struct {
	Skip    bool
	Choice  int             // selection: index into Candidates
	Details *ConfirmDetails // confirmation: overrides, nil keeps prefill
}

func newPrompt(importID, userID string, kind PromptKind, rowIndex int, title string) *Prompt {
	return &Prompt{
		ID:        uuid.New().String(),
		ImportID:  importID,
		UserID:    userID,
		Kind:      kind,
		RowIndex:  rowIndex,
		GameTitle: title,
		answer:    make(chan Answer, 1),
	}
}
