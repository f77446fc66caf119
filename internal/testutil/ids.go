package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates predictable identifiers: prefix-0001, prefix-0002, ...
//
// Used in place of UUIDv7 generation so scenario runs produce byte-identical
// golden traces.
//
// Thread-safety: safe for concurrent use. Concurrent callers receive
// distinct IDs but their order is unspecified.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "id".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next identifier.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
