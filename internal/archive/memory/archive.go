// Package memory stores page snapshots in-memory for development.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Archive stores snapshots in-memory and returns pseudo URIs.
type Archive struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates a new in-memory archive.
func New() *Archive {
	return &Archive{data: make(map[string][]byte)}
}

// Archive persists the content and returns a URI.
func (a *Archive) Archive(_ context.Context, path string, _ string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns the stored content for a path.
func (a *Archive) Get(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.data[path]
	return data, ok
}

// Len reports how many snapshots are stored.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data)
}
