package memory

import (
	"sync"
	"time"

	"cio-bot/internal/domain"
)

type Store struct {
	mu      sync.Mutex
	history []domain.Message
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

func (s *Store) Append(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.history...)
}

// Recent returns the newest turns younger than ttl, at most limit of them.
// A non-positive limit or ttl disables that bound. When turns are dropped,
// leading assistant turns are dropped too so the window opens on a user turn.
func (s *Store) Recent(limit int, ttl time.Duration) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 {
		return nil
	}

	fresh := s.history
	if ttl > 0 {
		cutoff := s.now().Add(-ttl)
		fresh = make([]domain.Message, 0, len(s.history))
		for _, m := range s.history {
			if m.Timestamp.After(cutoff) {
				fresh = append(fresh, m)
			}
		}
	}

	if limit > 0 && len(fresh) > limit {
		fresh = fresh[len(fresh)-limit:]
	}

	// a trimmed window starts on a user turn
	if len(fresh) < len(s.history) {
		for len(fresh) > 0 && fresh[0].Role != domain.RoleUser {
			fresh = fresh[1:]
		}
	}

	return append([]domain.Message(nil), fresh...)
}
