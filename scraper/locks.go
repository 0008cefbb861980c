package scraper

import "sync"

// sessionLocks enforces one active session per roaster within this process.
type sessionLocks struct {
	mu     sync.Mutex
	active map[string]bool
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{active: make(map[string]bool)}
}

// acquire reserves the roaster key, reporting false if a session already
// holds it.
func (l *sessionLocks) acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[key] {
		return false
	}
	l.active[key] = true
	return true
}

func (l *sessionLocks) release(key string) {
	l.mu.Lock()
	delete(l.active, key)
	l.mu.Unlock()
}

// locks is the process-wide registry; every Engine shares it.
var locks = newSessionLocks()
