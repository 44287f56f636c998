// Package link implements one agent websocket connection: the session
// registry multiplexed over it, and the directory of all connected agents.
package link

import (
	"sync"

	"github.com/google/uuid"

	"github.com/fleetward/hub/internal/action"
)

// entry pairs a running action with the means to signal it closed, written
// exactly once.
type entry struct {
	action    *action.Action
	closeOnce sync.Once
}

// sessionRegistry is a concurrent session_id -> action map scoped to a
// single Connection. Entries are removed when a session completes naturally,
// is explicitly closed, or is aborted.
type sessionRegistry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{entries: make(map[uuid.UUID]*entry)}
}

// put registers action a under sessionID. If a session with that id already exists,
// latest wins: the old entry is replaced and its Action aborted exactly
// once, so its goroutines and completion-hook don't block forever on a
// reused session id.
func (r *sessionRegistry) put(sessionID uuid.UUID, a *action.Action) {
	r.mu.Lock()
	old, hadOld := r.entries[sessionID]
	r.entries[sessionID] = &entry{action: a}
	r.mu.Unlock()

	if hadOld {
		old.closeOnce.Do(old.action.Abort)
	}
}

func (r *sessionRegistry) get(sessionID uuid.UUID) (*action.Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	return e.action, true
}

func (r *sessionRegistry) remove(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, sessionID)
}

// removeIfCurrent deletes sessionID's entry only if it still holds a. A
// completion hook watching an action that was superseded by put (a reused
// session id) must not delete the newer entry that replaced it.
func (r *sessionRegistry) removeIfCurrent(sessionID uuid.UUID, a *action.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[sessionID]; ok && e.action == a {
		delete(r.entries, sessionID)
	}
}

// removeAndAbort removes the session and aborts its action exactly once,
// regardless of how many times it's called for the same session (natural
// completion racing an explicit close, for instance).
func (r *sessionRegistry) removeAndAbort(sessionID uuid.UUID) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if ok {
		delete(r.entries, sessionID)
	}
	r.mu.Unlock()
	if ok {
		e.closeOnce.Do(e.action.Abort)
	}
}

// abortAll tears down every session currently registered. Used on link
// teardown.
func (r *sessionRegistry) abortAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[uuid.UUID]*entry)
	r.mu.Unlock()
	for _, e := range entries {
		e.closeOnce.Do(e.action.Abort)
	}
}

// sessionIDs returns a snapshot of currently registered session ids.
func (r *sessionRegistry) sessionIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
