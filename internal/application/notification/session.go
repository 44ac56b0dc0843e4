package notification

import (
	"context"
	"sync"

	"github.com/snaphub-notify/internal/domain"
)

// userSession is the per-user in-memory state: the last computed list plus
// the coordination needed to keep passes and mutations from interleaving.
type userSession struct {
	// slot is a one-token semaphore. Reconcile try-acquires it; mutations
	// block on it, so a mutation's write lands before the next pass starts.
	slot chan struct{}

	mu         sync.Mutex
	generation uint64
	items      []domain.Notification
	// retired is set once the session is dropped from the service table.
	// Whoever acquires a retired slot must look the session up again.
	retired bool
}

func newUserSession() *userSession {
	return &userSession{slot: make(chan struct{}, 1)}
}

func (u *userSession) tryAcquire() bool {
	select {
	case u.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

func (u *userSession) acquire(ctx context.Context) error {
	select {
	case u.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *userSession) release() { <-u.slot }

func (u *userSession) retire() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.retired = true
}

func (u *userSession) isRetired() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.retired
}

func (u *userSession) empty() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.items) == 0
}

func (u *userSession) currentGeneration() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.generation
}

// end invalidates in-flight passes and forgets the cached list.
func (u *userSession) end() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.generation++
	u.items = nil
}

// publish stores items as the cached list unless the session ended since gen.
func (u *userSession) publish(gen uint64, items []domain.Notification) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.generation != gen {
		return false
	}
	u.items = items
	return true
}

func (u *userSession) clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.items = nil
}

func (u *userSession) snapshot() Feed {
	u.mu.Lock()
	defer u.mu.Unlock()
	return newFeed(u.items)
}

func (u *userSession) find(id string) (domain.Notification, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, n := range u.items {
		if n.ID == id {
			return n, true
		}
	}
	return domain.Notification{}, false
}

// statuses returns id -> status for every cached item.
func (u *userSession) statuses() map[string]string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]string, len(u.items))
	for _, n := range u.items {
		out[n.ID] = n.Status
	}
	return out
}

func (u *userSession) setRead(ids map[string]string, read bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := range u.items {
		if _, ok := ids[u.items[i].ID]; ok {
			u.items[i].IsRead = read
		}
	}
}

func (u *userSession) setAllRead(read bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := range u.items {
		u.items[i].IsRead = read
	}
}

func (u *userSession) remove(id string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	for i, n := range u.items {
		if n.ID == id {
			u.items = append(u.items[:i:i], u.items[i+1:]...)
			return true
		}
	}
	return false
}
