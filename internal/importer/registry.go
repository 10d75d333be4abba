package importer

import (
	"sync"
	"time"
)

// Registry tracks the live controller for each user's session and routes
// prompt responses to it. It is explicit, injectable state with a defined
// lifecycle: a handle is inserted when a session starts or resumes, and
// removed when the session reaches a terminal status or sits suspended past
// the TTL.
type Registry struct {
	mu      sync.Mutex
	byUser  map[string]*handle
	ttl     time.Duration
	stopped chan struct{}
}

// handle is the registry's view of one session's controller.
type handle struct {
	importID string
	running  bool
	prompt   *Prompt
	lastSeen time.Time
	// stop wakes a controller blocked on a prompt when the handle is removed.
	stop chan struct{}
}

// NewRegistry creates a Registry whose janitor evicts idle suspended handles
// after ttl. Close must be called to stop the janitor.
func NewRegistry(ttl time.Duration) *Registry {
	r := &Registry{
		byUser:  make(map[string]*handle),
		ttl:     ttl,
		stopped: make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Close stops the janitor goroutine.
func (r *Registry) Close() {
	close(r.stopped)
}

// janitor evicts handles that have been suspended longer than the TTL.
func (r *Registry) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopped:
			return
		case <-ticker.C:
		}

		r.mu.Lock()
		for userID, h := range r.byUser {
			if !h.running && time.Since(h.lastSeen) > r.ttl {
				close(h.stop)
				delete(r.byUser, userID)
			}
		}
		r.mu.Unlock()
	}
}

// insert registers (or revives) the handle for a user's session and marks it
// running. Returns false if a controller is already running for the user.
func (r *Registry) insert(userID, importID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byUser[userID]; ok {
		if h.running && h.importID == importID {
			return false
		}
		close(h.stop)
	}

	r.byUser[userID] = &handle{
		importID: importID,
		running:  true,
		lastSeen: time.Now(),
		stop:     make(chan struct{}),
	}
	return true
}

// remove drops the user's handle entirely; any blocked controller wakes up
// and any outstanding prompt becomes stale.
func (r *Registry) remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byUser[userID]; ok {
		close(h.stop)
		delete(r.byUser, userID)
	}
}

// suspend marks the controller as no longer running but keeps the handle (and
// the session's resumability) until the TTL. The prompt, if any, is dropped.
func (r *Registry) suspend(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byUser[userID]; ok {
		h.running = false
		h.prompt = nil
		h.lastSeen = time.Now()
	}
}

// setPrompt publishes the controller's outstanding prompt.
func (r *Registry) setPrompt(userID string, p *Prompt) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byUser[userID]
	if !ok {
		// Session was removed out from under the controller; hand back a
		// closed channel so the caller unblocks immediately.
		stop := make(chan struct{})
		close(stop)
		return stop
	}
	h.prompt = p
	h.lastSeen = time.Now()
	return h.stop
}

// clearPrompt retires a prompt after the controller stops waiting for it.
// Returns false if the prompt had already been resolved (its answer is then
// sitting in the prompt's buffer).
func (r *Registry) clearPrompt(userID, promptID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byUser[userID]
	if !ok || h.prompt == nil || h.prompt.ID != promptID {
		return false
	}
	h.prompt = nil
	return true
}

// CurrentPrompt returns the user's outstanding prompt, or nil.
func (r *Registry) CurrentPrompt(userID string) *Prompt {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byUser[userID]; ok {
		return h.prompt
	}
	return nil
}

// Resolve delivers the user's answer to the outstanding prompt. It fails
// with ErrStalePrompt when the prompt expired, was canceled, or promptID does
// not match - a late answer is never applied.
func (r *Registry) Resolve(userID, promptID string, ans Answer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byUser[userID]
	if !ok || h.prompt == nil || h.prompt.ID != promptID {
		return ErrStalePrompt
	}

	p := h.prompt
	h.prompt = nil
	h.lastSeen = time.Now()
	p.answer <- ans
	return nil
}

// Running reports whether a controller goroutine is active for the user.
func (r *Registry) Running(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byUser[userID]
	return ok && h.running
}
