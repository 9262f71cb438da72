package llm

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// SessionRegistry tracks a cancel signal per conversation session plus a
// global emergency-stop flag. Every model call derives its context from
// the session so that a stop request interrupts in-flight work, and the
// emergency stop trips every session at once.
//
// The registry is safe for concurrent use.
type SessionRegistry struct {
	mu        sync.Mutex
	sessions  map[string]*sessionCall
	stopped   map[string]bool
	emergency bool
}

type sessionCall struct {
	cancel context.CancelFunc
}

// NewSessionRegistry creates an empty session registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*sessionCall),
		stopped:  make(map[string]bool),
	}
}

// NewSessionID returns a fresh unique session identifier.
func NewSessionID() string {
	return uuid.New().String()
}

// Begin derives a cancellable context for a call within the given session.
// If the session is already stopped, or an emergency stop is active, the
// returned context is cancelled immediately. The returned release func must
// be called when the call finishes to drop the registration.
func (r *SessionRegistry) Begin(ctx context.Context, sessionID string) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if r.emergency || r.stopped[sessionID] {
		r.mu.Unlock()
		cancel()
		return callCtx, func() {}
	}
	// One outstanding call per session; a newer call supersedes the
	// registered cancel func but both observe StopSession.
	entry := &sessionCall{cancel: cancel}
	r.sessions[sessionID] = entry
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		if r.sessions[sessionID] == entry {
			delete(r.sessions, sessionID)
		}
		r.mu.Unlock()
		cancel()
	}
	return callCtx, release
}

// StopSession cancels any in-flight call for the session and marks it
// stopped so later calls abort immediately until ClearSession.
func (r *SessionRegistry) StopSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped[sessionID] = true
	if entry, ok := r.sessions[sessionID]; ok {
		entry.cancel()
		delete(r.sessions, sessionID)
	}
}

// ClearSession lifts a session's stop flag, allowing new calls.
func (r *SessionRegistry) ClearSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.stopped, sessionID)
}

// IsSessionStopped reports whether the session has a pending stop request.
func (r *SessionRegistry) IsSessionStopped(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped[sessionID]
}

// EmergencyStop cancels every active session and sets the global stop
// flag. All retry loops and streams observe the flag at their next
// suspension point and abort without further retries.
func (r *SessionRegistry) EmergencyStop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.emergency = true
	for id, entry := range r.sessions {
		entry.cancel()
		delete(r.sessions, id)
	}
}

// IsEmergencyStopped reports whether the global stop flag is set.
func (r *SessionRegistry) IsEmergencyStopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.emergency
}

// Reset clears the emergency flag and all per-session stop flags so the
// registry can accept new work after a full stop.
func (r *SessionRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.emergency = false
	r.stopped = make(map[string]bool)
}
