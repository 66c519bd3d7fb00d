package daemon

import (
	"sync"

	"github.com/google/uuid"

	"github.com/m4xw311/conch/errors"
)

// Sessions is the bounded registry of live bots, keyed by session id.
type Sessions struct {
	mu   sync.Mutex
	bots map[string]*Bot
	max  int
}

// NewSessions returns a registry holding at most max sessions.
func NewSessions(max int) *Sessions {
	if max <= 0 {
		max = 16
	}
	return &Sessions{bots: make(map[string]*Bot), max: max}
}

// Create registers a new bot and returns its session id.
func (s *Sessions) Create(build func(sessionID string) *Bot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bots) >= s.max {
		return "", errors.New("session limit reached (%d)", s.max)
	}
	id := uuid.NewString()
	s.bots[id] = build(id)
	return id, nil
}

// Get looks up a bot by session id.
func (s *Sessions) Get(id string) (*Bot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bot, ok := s.bots[id]
	return bot, ok
}

// Remove drops a session.
func (s *Sessions) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bots, id)
}

// Len reports the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bots)
}
