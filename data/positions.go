package data

import (
	"sync"
)

// Position is a user's last reported location. Replaced wholesale on
// every reading, never partially updated.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	// Epoch millis at capture time
	Timestamp int64 `json:"timestamp"`
	// device, ip-fallback or simulated. Informational only,
	// never used in distance math.
	Source string `json:"source,omitempty"`
}

// Positions tracks the last known position per user id.
// Writers are the connected sessions, readers are the direction
// computations, so everything goes through the lock.
type Positions struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

func NewPositions() *Positions {
	return &Positions{
		positions: make(map[string]*Position),
	}
}

// Get returns a user's last known position
func (p *Positions) Get(userID string) (*Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[userID]
	return pos, ok
}

// Put replaces a user's position unconditionally. Last write wins,
// no ordering check against Timestamp.
func (p *Positions) Put(userID string, pos *Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[userID] = pos
}

// Delete removes a user's position
func (p *Positions) Delete(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.positions, userID)
}

// List returns a snapshot of all positions
func (p *Positions) List() map[string]*Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]*Position, len(p.positions))
	for id, pos := range p.positions {
		out[id] = pos
	}
	return out
}

// Len returns the number of tracked users
func (p *Positions) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.positions)
}

// EvictStale removes entries whose Timestamp is older than threshold
// and returns how many were removed. Keeps a long-disconnected user
// from showing up as nearby.
func (p *Positions) EvictStale(nowMs, thresholdMs int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	var evicted int
	for id, pos := range p.positions {
		if nowMs-pos.Timestamp > thresholdMs {
			delete(p.positions, id)
			evicted++
		}
	}
	return evicted
}
