package session

import (
	"errors"
	"slices"
	"sync"

	"github.com/samber/lo"
)

var (
	ErrDuplicateSession = errors.New("session already exists")
	ErrSessionNotFound  = errors.New("session not found")
)

// Registry indexes live sessions by id. Sessions share nothing through it.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	reserved map[string]uint64
	nextID   uint64
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		reserved: make(map[string]uint64),
	}
}

// Reserve holds id until release is called or a session with that id is
// added. It fails when id is live or already reserved.
func (r *Registry) Reserve(id string) (release func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.taken(id) {
		return nil, ErrDuplicateSession
	}

	r.nextID++
	token := r.nextID
	r.reserved[id] = token

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()

			if r.reserved[id] == token {
				delete(r.reserved, id)
			}
		})
	}, nil
}

// Add registers s until it closes, taking over a reservation of its id.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	if _, ok := r.sessions[s.ID()]; ok {
		r.mu.Unlock()
		return ErrDuplicateSession
	}
	delete(r.reserved, s.ID())
	r.sessions[s.ID()] = s
	r.mu.Unlock()

	s.OnClose(func(closed *Session) {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.sessions[closed.ID()] == closed {
			delete(r.sessions, closed.ID())
		}
	})

	return nil
}

func (r *Registry) taken(id string) bool {
	if _, ok := r.sessions[id]; ok {
		return true
	}
	_, ok := r.reserved[id]
	return ok
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	return s, nil
}

// Remove unregisters id without closing the session.
func (r *Registry) Remove(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	delete(r.sessions, id)

	return s, nil
}

// List returns the ids of live sessions in lexical order.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := lo.Keys(r.sessions)
	r.mu.RUnlock()

	slices.Sort(ids)

	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// CloseAll closes every registered session.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	sessions := lo.Values(r.sessions)
	r.mu.RUnlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}
