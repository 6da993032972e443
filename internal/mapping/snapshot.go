package mapping

import "sync"

// Provider hands out versioned snapshots of the mapping set. A refresh
// installs a whole new set under the writer lock; requests keep using
// whatever snapshot they already captured, so in-flight work never
// observes a half-applied configuration.
type Provider struct {
	mu      sync.RWMutex
	set     *Set
	version uint64
}

// NewProvider wraps an initial set at version 1.
func NewProvider(set *Set) *Provider {
	return &Provider{set: set, version: 1}
}

// Snapshot returns the current set and its version. The returned set
// must be treated as read-only; mutate through Install instead.
func (p *Provider) Snapshot() (*Set, uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.set, p.version
}

// Install swaps in a new configuration version and returns its number.
func (p *Provider) Install(set *Set) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set = set
	p.version++
	return p.version
}

// Version returns the current configuration version without acquiring
// the set itself, for staleness checks.
func (p *Provider) Version() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}
