// Package history keeps the bounded, per-user conversation window that is
// replayed to the generation backend as context.
package history

import (
	"sync"

	"github.com/yoockh/yoorelay/internal/models"
)

// DefaultMaxLength is the window size used when none is configured.
const DefaultMaxLength = 20

// Stats is a read-only snapshot of the store.
type Stats struct {
	TotalUsers int            `json:"total_users"`
	UserTurns  map[string]int `json:"user_turns"`
}

type entry struct {
	mu      sync.Mutex
	turns   []models.Turn
	removed bool
}

// Store maps a user id to its conversation window. Every user has its own
// lock, so users never contend with each other; operations on one user are
// linearizable.
type Store struct {
	users     sync.Map // string -> *entry
	maxLength int
}

func NewStore(maxLength int) *Store {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	return &Store{maxLength: maxLength}
}

func (s *Store) MaxLength() int { return s.maxLength }

// GetOrCreate returns a copy of the user's history, registering an empty
// history when the user is unknown.
func (s *Store) GetOrCreate(userID string) []models.Turn {
	for {
		e := s.load(userID)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		out := make([]models.Turn, len(e.turns))
		copy(out, e.turns)
		e.mu.Unlock()
		return out
	}
}

func (s *Store) AppendUser(userID, text string) {
	s.Append(userID, models.UserTurn(text))
}

func (s *Store) AppendAssistant(userID, text string) {
	s.Append(userID, models.AssistantTurn(text))
}

// Append adds a turn and trims the window back to MaxLength, dropping the
// oldest turns.
func (s *Store) Append(userID string, turn models.Turn) {
	for {
		e := s.load(userID)
		e.mu.Lock()
		if e.removed {
			// lost a race with Clear; the next load registers a fresh entry
			e.mu.Unlock()
			continue
		}
		e.turns = trim(append(e.turns, turn), s.maxLength)
		e.mu.Unlock()
		return
	}
}

// Clear forgets one user. Clearing an unknown user is a no-op.
func (s *Store) Clear(userID string) {
	v, ok := s.users.Load(userID)
	if !ok {
		return
	}
	e := v.(*entry)
	e.mu.Lock()
	e.removed = true
	e.turns = nil
	s.users.CompareAndDelete(userID, e)
	e.mu.Unlock()
}

// ClearAll forgets every user.
func (s *Store) ClearAll() {
	s.users.Range(func(k, _ any) bool {
		s.Clear(k.(string))
		return true
	})
}

func (s *Store) Stats() Stats {
	st := Stats{UserTurns: map[string]int{}}
	s.users.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.removed {
			st.UserTurns[k.(string)] = len(e.turns)
		}
		e.mu.Unlock()
		return true
	})
	st.TotalUsers = len(st.UserTurns)
	return st
}

func (s *Store) load(userID string) *entry {
	if v, ok := s.users.Load(userID); ok {
		return v.(*entry)
	}
	v, _ := s.users.LoadOrStore(userID, &entry{})
	return v.(*entry)
}

// trim keeps the last n turns. The result never aliases the dropped prefix,
// so old turns can be collected.
func trim(turns []models.Turn, n int) []models.Turn {
	if len(turns) <= n {
		return turns
	}
	out := make([]models.Turn, n)
	copy(out, turns[len(turns)-n:])
	return out
}
