package session

import "sync"

// Table is the process-wide session registry, keyed by session id.
//
// It holds no ownership: sessions are added by their transport handler on
// connect and removed by the same handler on teardown. Rooms and the relay
// only ever look sessions up by id.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

func (t *Table) Add(s *Session) {
	t.mu.Lock()
	t.sessions[s.ID()] = s
	t.mu.Unlock()
}

func (t *Table) Remove(id string) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
}

func (t *Table) Get(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
