package importer

import (
	"errors"
	"fmt"
)

// ErrNoActiveSession is returned by commands that need an ACTIVE or PAUSED
// session when the user has none.
var ErrNoActiveSession = errors.New("no import session in progress")

// ErrStalePrompt is returned when a prompt response arrives for a prompt that
// no longer exists: it timed out, the session was canceled, or the id does
// not match the current prompt.
var ErrStalePrompt = errors.New("prompt is no longer awaiting a response")

// ErrInvalidChoice is returned when a selection answer names a candidate
// index outside the presented list.
var ErrInvalidChoice = errors.New("invalid candidate choice")

// NoMatchError records that a row matched nothing, locally or at the
// metadata provider. The owning item is committed as ERROR with this text
// and the session moves on.
type NoMatchError struct {
	Title string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no catalog or provider match for %q", e.Title)
}
