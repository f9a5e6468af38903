package guard

import "sync"

// Guard hands out exclusive, process-local claims on opportunity keys.
//
// Claim and Release never block on I/O; callers hold a claim across the
// exchange call, not a lock.
type Guard struct {
	mu        sync.Mutex
	processed map[string]struct{} // order reached placed or beyond
	inFlight  map[string]struct{} // submission currently running
}

func New() *Guard {
	return &Guard{
		processed: make(map[string]struct{}),
		inFlight:  make(map[string]struct{}),
	}
}

// Claim returns true iff the caller may submit an order for key.
// It returns false if key is already processed or another caller holds it.
func (g *Guard) Claim(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.processed[key]; ok {
		return false
	}
	if _, ok := g.inFlight[key]; ok {
		return false
	}
	g.inFlight[key] = struct{}{}
	return true
}

// Release drops the in-flight claim unconditionally and, on success,
// marks key as processed so later claims fail.
func (g *Guard) Release(key string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.inFlight, key)
	if success {
		g.processed[key] = struct{}{}
	}
}

// MarkProcessed records key as processed without a claim (used on reload).
func (g *Guard) MarkProcessed(key string) {
	g.mu.Lock()
	g.processed[key] = struct{}{}
	g.mu.Unlock()
}

func (g *Guard) IsProcessed(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.processed[key]
	return ok
}

func (g *Guard) IsInFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inFlight[key]
	return ok
}

// Stats returns the sizes of the processed and in-flight sets.
func (g *Guard) Stats() (processed, inFlight int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.processed), len(g.inFlight)
}

// ResetProcessed forgets every processed key. In-flight claims survive so a
// running submission still releases cleanly.
func (g *Guard) ResetProcessed() {
	g.mu.Lock()
	g.processed = make(map[string]struct{})
	g.mu.Unlock()
}
