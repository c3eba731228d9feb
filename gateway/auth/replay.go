package auth

import (
	"container/list"
	"sync"
	"time"
)

// HeaderNonce carries a per-request nonce on mutating calls. Combined with the
// token ID it prevents a captured request from being replayed.
const HeaderNonce = "X-Nonce"

const (
	defaultNonceWindow   = 10 * time.Minute
	defaultNonceCapacity = 4096
	maxNonceCapacity     = 65536
)

// ReplayGuard remembers recently observed nonces in a bounded LRU window.
type ReplayGuard struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type nonceEntry struct {
	key string
	ts  time.Time
}

func NewReplayGuard(ttl time.Duration, capacity int) *ReplayGuard {
	if ttl <= 0 {
		ttl = defaultNonceWindow
	}
	if capacity <= 0 {
		capacity = defaultNonceCapacity
	}
	if capacity > maxNonceCapacity {
		capacity = maxNonceCapacity
	}
	return &ReplayGuard{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Seen returns true if key was already observed within the window and
// records it otherwise.
func (g *ReplayGuard) Seen(key string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evictExpired(now.Add(-g.ttl))
	if _, exists := g.entries[key]; exists {
		return true
	}
	for g.order.Len() >= g.capacity {
		g.evictFront()
	}
	g.entries[key] = g.order.PushBack(nonceEntry{key: key, ts: now})
	return false
}

// Len reports the number of tracked nonces.
func (g *ReplayGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.order.Len()
}

func (g *ReplayGuard) evictExpired(cutoff time.Time) {
	for {
		front := g.order.Front()
		if front == nil {
			return
		}
		if !front.Value.(nonceEntry).ts.Before(cutoff) {
			return
		}
		g.evictFront()
	}
}

func (g *ReplayGuard) evictFront() {
	front := g.order.Front()
	if front == nil {
		return
	}
	g.order.Remove(front)
	delete(g.entries, front.Value.(nonceEntry).key)
}
