package repository

import (
	"errors"
	"sync"

	"chatbot-backend/internal/models"
)

// ErrUnknownSession is returned when an operation names a session that was never created.
var ErrUnknownSession = errors.New("unknown session")

// ConversationRepo keeps every session's history in process memory.
// It is safe for concurrent use, but it only separates sessions by key: two
// callers appending to the same session interleave in whatever order they
// acquire the lock. Callers that need whole turns to be atomic should hold
// LockSession for the duration of the turn.
//
// Histories are never evicted and live until Delete or process exit.
type ConversationRepo struct {
	mu       sync.RWMutex
	sessions map[string][]models.ChatMessage

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func NewConversationRepo() *ConversationRepo {
	return &ConversationRepo{
		sessions: make(map[string][]models.ChatMessage),
		locks:    make(map[string]*sessionLock),
	}
}

// GetOrCreate returns a copy of the session's history, binding an empty one if absent.
// The second return value reports whether the session was created by this call.
func (r *ConversationRepo) GetOrCreate(sessionID string) ([]models.ChatMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	history, ok := r.sessions[sessionID]
	if !ok {
		r.sessions[sessionID] = []models.ChatMessage{}
		return []models.ChatMessage{}, true
	}
	return cloneHistory(history), false
}

func (r *ConversationRepo) Get(sessionID string) ([]models.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return cloneHistory(history), nil
}

// Append adds messages to the end of a session's history and returns the new length.
func (r *ConversationRepo) Append(sessionID string, msgs ...models.ChatMessage) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	history, ok := r.sessions[sessionID]
	if !ok {
		return 0, ErrUnknownSession
	}
	history = append(history, msgs...)
	r.sessions[sessionID] = history
	return len(history), nil
}

// Clear empties a session's history but keeps the session bound.
func (r *ConversationRepo) Clear(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return ErrUnknownSession
	}
	r.sessions[sessionID] = []models.ChatMessage{}
	return nil
}

// Delete removes the session and reports whether it existed.
func (r *ConversationRepo) Delete(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return false
	}
	delete(r.sessions, sessionID)
	return true
}

// List returns a snapshot of session ID to message count.
func (r *ConversationRepo) List() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.sessions))
	for id, history := range r.sessions {
		out[id] = len(history)
	}
	return out
}

// LockSession blocks until the caller holds the exclusive lock for sessionID.
// The returned func releases it. Locks are dropped once nobody holds or waits on them.
func (r *ConversationRepo) LockSession(sessionID string) (unlock func()) {
	r.locksMu.Lock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		r.locks[sessionID] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()

			r.locksMu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(r.locks, sessionID)
			}
			r.locksMu.Unlock()
		})
	}
}

func cloneHistory(history []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, len(history))
	copy(out, history)
	return out
}
