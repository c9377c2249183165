package idempotency

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	token   uint64
	expires time.Time
}

// MemoryGuard is a process-local Guard.
type MemoryGuard struct {
	mu     sync.Mutex
	leases map[Key]lease
	next   uint64
	now    func() time.Time
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{leases: make(map[Key]lease), now: time.Now}
}

func (g *MemoryGuard) Acquire(_ context.Context, key Key, ttl time.Duration) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if held, ok := g.leases[key]; ok && now.Before(held.expires) {
		return nil, ErrInFlight
	}
	g.next++
	token := g.next
	g.leases[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			// an expired lease may already belong to someone else
			if held, ok := g.leases[key]; ok && held.token == token {
				delete(g.leases, key)
			}
		})
	}, nil
}
