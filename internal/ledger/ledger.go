// Package ledger is the in-process deduplication ledger.
//
// The ledger turns concurrent deliveries of the same punch into exactly one
// admission. It is bounded and forgets entries after a TTL; durability across
// restarts comes from the dedup_keys table written by the aggregator in the
// same transaction as the attendance update.
package ledger

import (
	"container/list"
	"sync"
	"time"
)

// Result is the outcome of an admission attempt.
type Result int

const (
	// Admitted means the key was not present and is now recorded.
	Admitted Result = iota + 1
	// Duplicate means the key was already present.
	Duplicate
)

func (r Result) String() string {
	switch r {
	case Admitted:
		return "admitted"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

const (
	DefaultMaxEntries = 100_000
	DefaultTTL        = 72 * time.Hour
)

// Ledger records admitted dedup keys.
type Ledger interface {
	Admit(key string) Result
	Release(key string)
}

type entry struct {
	key        string
	admittedAt time.Time
}

// Memory is a bounded, TTL-expiring ledger guarded by a single mutex.
// The oldest admission is evicted first when the ledger is full.
//
// Thread-safety: all methods are safe for concurrent use. Admit is an atomic
// check-and-insert.
type Memory struct {
	mu         sync.Mutex
	order      *list.List // Front is the oldest admission
	index      map[string]*list.Element
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// Option configures a Memory ledger.
type Option func(*Memory)

// WithMaxEntries bounds the number of remembered keys. n <= 0 means unbounded.
func WithMaxEntries(n int) Option {
	return func(m *Memory) {
		m.maxEntries = n
	}
}

// WithTTL sets how long a key is remembered. d <= 0 disables expiry.
func WithTTL(d time.Duration) Option {
	return func(m *Memory) {
		m.ttl = d
	}
}

// WithClock overrides the wall clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty ledger.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		order:      list.New(),
		index:      make(map[string]*list.Element),
		maxEntries: DefaultMaxEntries,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Admit records key and returns Admitted, or Duplicate if key is already
// remembered.
func (m *Memory) Admit(key string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.expireLocked(now)

	if _, ok := m.index[key]; ok {
		return Duplicate
	}

	m.index[key] = m.order.PushBack(entry{key: key, admittedAt: now})
	if m.maxEntries > 0 {
		for m.order.Len() > m.maxEntries {
			m.removeLocked(m.order.Front())
		}
	}
	return Admitted
}

// Release forgets key. Used when the apply that followed an admission failed,
// so a later delivery of the same punch can be retried.
func (m *Memory) Release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.index[key]; ok {
		m.removeLocked(el)
	}
}

// Contains reports whether key is currently remembered.
func (m *Memory) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(m.now())
	_, ok := m.index[key]
	return ok
}

// Len returns the number of remembered keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(m.now())
	return m.order.Len()
}

// Reset forgets every key.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.order.Init()
	m.index = make(map[string]*list.Element)
}

// expireLocked drops entries older than the TTL. Must hold m.mu.
func (m *Memory) expireLocked(now time.Time) {
	if m.ttl <= 0 {
		return
	}
	cutoff := now.Add(-m.ttl)
	for el := m.order.Front(); el != nil; el = m.order.Front() {
		if el.Value.(entry).admittedAt.After(cutoff) {
			return
		}
		m.removeLocked(el)
	}
}

func (m *Memory) removeLocked(el *list.Element) {
	delete(m.index, el.Value.(entry).key)
	m.order.Remove(el)
}
