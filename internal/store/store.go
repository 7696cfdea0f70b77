// Package store holds pending light programs in memory.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dokzlo13/lightpd/internal/program"
)

// Entry is a stored program with bookkeeping used for logging.
type Entry struct {
	ID      string
	Program program.Program
	AddedAt time.Time
}

// Store is an insertion-ordered collection of programs in which no two
// elements are structurally equal. It is not persisted.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

// Insert appends p unless a structurally equal program is already stored.
func (s *Store) Insert(p program.Program) bool {
	_, ok := s.Add(p)
	return ok
}

// Add is Insert that also returns the entry that now represents p: the new
// entry when inserted, the existing one when p is a duplicate.
func (s *Store) Add(p program.Program) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(p); i >= 0 {
		return s.entries[i], false
	}

	e := Entry{
		ID:      uuid.NewString(),
		Program: p.Clone(),
		AddedAt: time.Now(),
	}
	s.entries = append(s.entries, e)
	return e, true
}

// Remove deletes the first program structurally equal to p.
func (s *Store) Remove(p program.Program) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(p)
	if i < 0 {
		return false
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return true
}

// All returns a snapshot in insertion order.
func (s *Store) All() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of stored programs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) indexOf(p program.Program) int {
	for i := range s.entries {
		if s.entries[i].Program.Equal(p) {
			return i
		}
	}
	return -1
}
