package utils

import "sync"

// JobTracker hands out monotonically increasing job ids per session so callers can discard
// results of invocations that were superseded while still running.
type JobTracker struct {
	mu     sync.Mutex
	seq    uint64
	latest map[string]uint64
}

// NewJobTracker constructs an empty tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{latest: make(map[string]uint64)}
}

// Begin registers a new job for session and returns its id. An empty session is never stale.
func (t *JobTracker) Begin(session string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	if session != "" {
		t.latest[session] = t.seq
	}
	return t.seq
}

// Current reports whether id is still the newest job for session.
func (t *JobTracker) Current(session string, id uint64) bool {
	if session == "" {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest[session] == id
}

// Finish forgets the session when id is its newest job.
func (t *JobTracker) Finish(session string, id uint64) {
	if session == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latest[session] == id {
		delete(t.latest, session)
	}
}
