// Package store persists import sessions and their per-row items in
// PostgreSQL. Every mutation is a single autocommit statement: there is
// deliberately no transaction spanning an import, so a crash mid-run loses at
// most the in-flight row, never the session.
package store

import (
	"fmt"
	"time"
)

// SessionStatus is the lifecycle status of an import session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "ACTIVE"
	SessionPaused   SessionStatus = "PAUSED"
	SessionCanceled SessionStatus = "CANCELED"
	SessionComplete SessionStatus = "COMPLETE"
)

// ItemStatus is the resolution status of a single export row.
type ItemStatus string

const (
	ItemPending  ItemStatus = "PENDING"
	ItemSkipped  ItemStatus = "SKIPPED"
	ItemImported ItemStatus = "IMPORTED"
	ItemUpdated  ItemStatus = "UPDATED"
	ItemError    ItemStatus = "ERROR"
)

// Terminal reports whether no further automatic transition applies.
func (s ItemStatus) Terminal() bool {
	return s != ItemPending
}

// Session is one complete attempt to import a user's export file.
// CurrentIndex is an advisory cursor only; the authoritative resume point is
// always the lowest-indexed PENDING item.
type Session struct {
	ID             string
	UserID         string
	Status         SessionStatus
	CurrentIndex   int
	TotalCount     int
	SourceFilename string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Item is one row of the export file, tracked independently through
// resolution. Raw fields are kept verbatim from the parsed export.
type Item struct {
	ID                 string
	ImportID           string
	RowIndex           int
	GameTitle          string
	PlatformName       string
	RegionName         string
	SourceType         string
	TimeText           string
	CompletedAt        *time.Time
	CompletionType     string
	PlaytimeHours      *float64
	Status             ItemStatus
	CatalogGameID      *string
	CompletionRecordID *string
	ErrorText          *string
}

// ConflictError reports an attempt to start a session while one is already
// active or paused for the same user. Nothing is mutated when it is returned.
type ConflictError struct {
	UserID     string
	ExistingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("user %s already has import session %s in progress", e.UserID, e.ExistingID)
}

// validTransitions enumerates the allowed session status changes.
var validTransitions = map[SessionStatus][]SessionStatus{
	SessionActive: {SessionPaused, SessionCanceled, SessionComplete},
	SessionPaused: {SessionActive, SessionCanceled},
}

// ValidTransition reports whether a session may move from one status to
// another. Terminal statuses allow no further transitions.
func ValidTransition(from, to SessionStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
