package services

import (
	"context"
	"sync"

	"callguard/internal/domain/models"
	"callguard/pkg/logger"
)

// HistoryFilter narrows history queries
type HistoryFilter struct {
	Number   string
	MinLevel models.RiskLevel
	Limit    int
}

// HistoryRepository persists finished sessions. Implemented by the
// postgres store; nil means history is in-memory only.
type HistoryRepository interface {
	Save(ctx context.Context, session *models.CallSession) error
	Find(ctx context.Context, filter HistoryFilter) ([]*models.CallSession, error)
}

// SessionStore holds live call sessions and the history of finished
// ones. Live sessions are owned by a single pipeline task each; the
// store only guards the maps, never the session internals.
type SessionStore struct {
	mu      sync.RWMutex
	live    map[string]*models.CallSession
	history []*models.CallSession

	repo   HistoryRepository
	logger *logger.Logger

	// in-memory history keeps at most this many sessions
	historyCap int
}

func NewSessionStore(repo HistoryRepository, log *logger.Logger) *SessionStore {
	return &SessionStore{
		live:       map[string]*models.CallSession{},
		repo:       repo,
		logger:     log.WithComponent("session-store"),
		historyCap: 1000,
	}
}

// Put registers a live session. Returns false if the id is taken.
func (s *SessionStore) Put(session *models.CallSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.live[session.CallID]; exists {
		return false
	}
	s.live[session.CallID] = session
	return true
}

// Get returns the live session for callID, or nil
func (s *SessionStore) Get(callID string) *models.CallSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live[callID]
}

// Active returns a snapshot of all live sessions
func (s *SessionStore) Active() []*models.CallSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CallSession, 0, len(s.live))
	for _, session := range s.live {
		out = append(out, session)
	}
	return out
}

// ActiveCount returns the number of live sessions
func (s *SessionStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.live)
}

// Retire moves a terminal session from the live map to history. The
// move is one-way; a retired session never comes back. No-op when the
// session is still active or unknown.
func (s *SessionStore) Retire(ctx context.Context, callID string) *models.CallSession {
	s.mu.Lock()
	session, ok := s.live[callID]
	if !ok || !session.IsTerminal() {
		s.mu.Unlock()
		return nil
	}
	delete(s.live, callID)
	s.history = append(s.history, session)
	if len(s.history) > s.historyCap {
		s.history = s.history[len(s.history)-s.historyCap:]
	}
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Save(ctx, session); err != nil {
			s.logger.Error().Err(err).Str("call_id", callID).Msg("failed to persist finished session")
		}
	}
	return session
}

// History returns finished sessions matching the filter, newest first.
// When a repository is configured it is the source of truth; the
// in-memory ring answers otherwise.
func (s *SessionStore) History(ctx context.Context, filter HistoryFilter) ([]*models.CallSession, error) {
	if s.repo != nil {
		return s.repo.Find(ctx, filter)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.CallSession
	for i := len(s.history) - 1; i >= 0; i-- {
		session := s.history[i]
		if filter.Number != "" && session.From != filter.Number {
			continue
		}
		if filter.MinLevel != "" {
			if session.Assessment == nil || !session.Assessment.Level.AtLeast(filter.MinLevel) {
				continue
			}
		}
		out = append(out, session)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// HistoryCount returns the number of finished sessions held in memory
func (s *SessionStore) HistoryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}
