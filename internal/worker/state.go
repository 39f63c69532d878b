package worker

import (
	"sync"

	"github.com/google/uuid"

	"memochat/internal/models"
)

// userState caches one user's loaded sessions and their send tokens.
type userState struct {
	mu       sync.RWMutex
	ready    map[int64]struct{}
	sessions map[int64]*models.Session
	history  map[int64][]*models.Message
	sends    map[int64]string
}

func newUserState() *userState {
	return &userState{
		ready:    make(map[int64]struct{}),
		sessions: make(map[int64]*models.Session),
		history:  make(map[int64][]*models.Message),
		sends:    make(map[int64]string),
	}
}

func (s *userState) isReady(sessionID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ready[sessionID]
	return ok
}

// load installs a session and its history and marks it ready.
func (s *userState) load(session *models.Session, history []*models.Message) {
	if session == nil {
		return
	}
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.history[session.ID] = history
	s.ready[session.ID] = struct{}{}
	s.mu.Unlock()
}

func (s *userState) getSession(sessionID int64) *models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID]
}

func (s *userState) setTitle(sessionID int64, title string) {
	s.mu.Lock()
	if se, ok := s.sessions[sessionID]; ok {
		copied := *se
		copied.Title = title
		s.sessions[sessionID] = &copied
	}
	s.mu.Unlock()
}

func (s *userState) appendHistory(sessionID int64, msg *models.Message) {
	if msg == nil {
		return
	}
	s.mu.Lock()
	s.history[sessionID] = append(s.history[sessionID], msg)
	s.mu.Unlock()
}

// getHistory returns a copy so callers may keep it across appends.
func (s *userState) getHistory(sessionID int64) []*models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.history[sessionID]
	out := make([]*models.Message, len(history))
	copy(out, history)
	return out
}

// beginSend records a fresh token for the session; earlier sends become stale.
func (s *userState) beginSend(sessionID int64) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.sends[sessionID] = token
	s.mu.Unlock()
	return token
}

func (s *userState) isCurrent(sessionID int64, token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sends[sessionID] == token
}

// purgeCache drops the cached session; pending send tokens survive so an
// in-flight send is not mistaken for a stale one.
func (s *userState) purgeCache(sessionID int64) {
	s.mu.Lock()
	delete(s.ready, sessionID)
	delete(s.sessions, sessionID)
	delete(s.history, sessionID)
	s.mu.Unlock()
}

func (s *userState) reset() {
	s.mu.Lock()
	s.ready = make(map[int64]struct{})
	s.sessions = make(map[int64]*models.Session)
	s.history = make(map[int64][]*models.Message)
	s.mu.Unlock()
}
