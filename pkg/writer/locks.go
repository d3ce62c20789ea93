package writer

import "sync"

// agentLocks serializes writes per agent so dedup reads see a
// consistent view within one namespace. Locks are never reclaimed; the
// agent population is small and long-lived.
type agentLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAgentLocks() *agentLocks {
	return &agentLocks{locks: map[string]*sync.Mutex{}}
}

func (l *agentLocks) lock(agentID string) func() {
	l.mu.Lock()
	m, ok := l.locks[agentID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[agentID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
