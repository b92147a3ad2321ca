// ABOUTME: Advisory per-link run locks
// ABOUTME: Refuses a second concurrent run for the same link instead of racing
package sync

import (
	"sync"

	"github.com/google/uuid"
)

// linkLocks is an in-process lock registry. The run log records status but
// is advisory only; this is what actually keeps two runs for one link from
// interleaving. Single-process is the deployment shape here (the store
// itself is a single sqlite connection).
type linkLocks struct {
	mu   sync.Mutex
	held map[uuid.UUID]bool
}

func newLinkLocks() *linkLocks {
	return &linkLocks{held: make(map[uuid.UUID]bool)}
}

func (l *linkLocks) tryAcquire(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[id] {
		return false
	}
	l.held[id] = true
	return true
}

func (l *linkLocks) release(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}
