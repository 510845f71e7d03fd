package auth

import "sync"

// MemoryStore is a small in-memory credential store, loaded once at
// startup from environment-provided username/bcrypt-hash/role triples.
// It exists so the HTTP layer has a real Store to exercise; swapping in a
// database-backed Store requires no change to Issuer.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryStore(users ...User) *MemoryStore {
	m := &MemoryStore{users: make(map[string]User, len(users))}
	for _, u := range users {
		m.users[u.Username] = u
	}
	return m
}

func (m *MemoryStore) Lookup(username string) (User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	return u, ok
}

var _ Store = (*MemoryStore)(nil)
