// Package dedupe tracks fit request ids for idempotent submission.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper maps client request ids to the fit they created.
type Deduper interface {
	// Reserve atomically records requestID -> fitID unless requestID is
	// already known. It returns the owning fit id and whether it was seen.
	Reserve(ctx context.Context, requestID, fitID string) (owner string, seen bool)

	// Release forgets requestID so it can be retried. Used when a reserved
	// submission was rejected before it reached the queue.
	Release(ctx context.Context, requestID string)

	Size() int64
}

// node is one entry in the insertion-ordered list.
type node struct {
	key, fitID string
	prev, next *node
}

// inMemoryDeduper keeps a map plus a doubly linked list in insertion order.
// Bounded mode (maxSize > 0) evicts the oldest entry when full.
// Unbounded mode (maxSize <= 0) never evicts.
type inMemoryDeduper struct {
	mu         sync.Mutex
	seen       map[string]*node
	head, tail *node // head is newest
	maxSize    int
	size       atomic.Int64
	nodePool   sync.Pool
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 10_000,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*node)
	d.nodePool = sync.Pool{New: func() any { return &node{} }}
	return d
}

func (d *inMemoryDeduper) Reserve(_ context.Context, requestID, fitID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, ok := d.seen[requestID]; ok {
		return n.fitID, true
	}

	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}

	n := d.nodePool.Get().(*node)
	n.key, n.fitID = requestID, fitID
	d.pushFront(n)
	d.seen[requestID] = n
	d.size.Add(1)
	return fitID, false
}

func (d *inMemoryDeduper) Release(_ context.Context, requestID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, ok := d.seen[requestID]
	if !ok {
		return
	}
	d.remove(n)
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}

// Callers must hold d.mu.
func (d *inMemoryDeduper) evictOldest() {
	if d.tail != nil {
		d.remove(d.tail)
	}
}

func (d *inMemoryDeduper) pushFront(n *node) {
	n.prev, n.next = nil, d.head
	if d.head != nil {
		d.head.prev = n
	}
	d.head = n
	if d.tail == nil {
		d.tail = n
	}
}

func (d *inMemoryDeduper) remove(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		d.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		d.tail = n.prev
	}
	delete(d.seen, n.key)
	*n = node{}
	d.nodePool.Put(n)
	d.size.Add(-1)
}
