// Package memory keeps the last few conversation turns per user in process.
//
// Windows are not shared between processes and are lost on restart.
package memory

import (
	"strings"
	"sync"
	"time"

	"wa-relay/internal/domain"
)

const DefaultWindow = 3

// Store holds a bounded FIFO window of turns per user id.
type Store struct {
	window int
	now    func() time.Time

	mu    sync.Mutex
	users map[string]*ring
}

// New creates a Store keeping at most window turns per user. Non-positive
// values fall back to DefaultWindow.
func New(window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		window: window,
		now:    time.Now,
		users:  make(map[string]*ring),
	}
}

// Append records a turn for userID, evicting the oldest turn once the window
// is full. Empty user ids and blank text are ignored.
func (s *Store) Append(userID string, role domain.Role, text string) {
	userID = strings.TrimSpace(userID)
	text = strings.TrimSpace(text)
	if userID == "" || text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.users[userID]
	if !ok {
		r = newRing(s.window)
		s.users[userID] = r
	}
	r.push(domain.Turn{Role: role, Text: text, At: s.now().UTC()})
}

// Recent returns a copy of the user's window, oldest first.
func (s *Store) Recent(userID string) []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.users[strings.TrimSpace(userID)]
	if !ok {
		return nil
	}
	return r.items()
}

// Clear drops the window for userID.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, strings.TrimSpace(userID))
}

// Len returns the number of users with a window.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// ring is a fixed-capacity circular buffer. start points at the oldest turn.
type ring struct {
	buf   []domain.Turn
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]domain.Turn, capacity)}
}

func (r *ring) push(t domain.Turn) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = t
		r.size++
		return
	}
	r.buf[r.start] = t
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) items() []domain.Turn {
	out := make([]domain.Turn, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
