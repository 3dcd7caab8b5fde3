package config

import "sync"

// AccessPool is the in-memory mapping from bearer token to the ordered
// list of path prefixes that token may access. Reads take a read lock for
// the microseconds of a single auth check; the daemon's reload path takes
// the write lock just long enough to swap the whole map, so readers
// observe either the old or the new version atomically.
type AccessPool struct {
	mu      sync.RWMutex
	entries map[string][]string
}

// NewAccessPool creates a pool holding the given token→prefix mapping.
func NewAccessPool(entries map[string][]string) *AccessPool {
	if entries == nil {
		entries = make(map[string][]string)
	}

	return &AccessPool{entries: entries}
}

// Lookup returns the allowed prefixes for a token, or false for an
// unknown token.
func (p *AccessPool) Lookup(token string) ([]string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prefixes, ok := p.entries[token]

	return prefixes, ok
}

// Replace swaps in a whole new mapping. Called on config hot reload.
func (p *AccessPool) Replace(entries map[string][]string) {
	if entries == nil {
		entries = make(map[string][]string)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries = entries
}

// Len returns the number of tokens in the pool.
func (p *AccessPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.entries)
}
