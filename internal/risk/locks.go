package risk

import "sync"

// userLocks hands out one mutex per user so validation and state updates
// for the same account serialize while different accounts run in parallel.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{m: make(map[string]*sync.Mutex)}
}

func (l *userLocks) get(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.m[userID]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.m[userID] = m
	return m
}
