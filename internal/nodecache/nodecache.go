// Package nodecache provides the bounded B-tree node cache described
// by the engine's concurrency contract: a mapping from (btree
// identity, node number) to a parsed node, sized and evicted the same
// way the teacher's disk-block cache is (internal/spinner).
//
// A Cache is safe for concurrent use: Get and Add take an internal
// lock, since a Volume keeps one Cache per system B-tree for its
// whole lifetime and shares it across every FileEntry and every
// top-level operation drawn from that Volume (§5 sanctions concurrent
// use of multiple entities backed by the same Volume). Callers get no
// benefit from trying to give each walk its own Cache on top of this;
// the synchronization lives here so node fetches on the shared
// catalog/extents/attributes trees never race.
package nodecache

import (
	"hash/maphash"
	"sync"

	"github.com/dgryski/go-tinylfu"
)

// Key identifies a node within one of the volume's three B-trees.
type Key struct {
	TreeID uint32 // reserved CNID of the B-tree file (catalog=4, extents=3, attributes=8)
	Node   uint32
}

// Node is the cached payload: a parsed node's record slices. The
// cache stores it as `any` so that btree.Node (which would import
// this package) is never imported back into nodecache, avoiding a
// cycle; callers type-assert on Get.
type Node = any

// Cache is a bounded LFU-admission cache of parsed nodes, shared by
// every caller walking the same B-tree.
type Cache struct {
	mu sync.Mutex
	t  *tinylfu.T[Key, Node]
}

// New creates a Cache holding up to capacity nodes. A capacity of 0
// falls back to a reasonable default sized for one catalog descent.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 256
	}
	seed := maphash.MakeSeed()
	hasher := func(k Key) uint64 { return maphash.Comparable(seed, k) }
	return &Cache{t: tinylfu.New[Key, Node](capacity, capacity*10, hasher)}
}

// Get returns the cached node for key, if present.
func (c *Cache) Get(key Key) (Node, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t.Get(key)
}

// Add inserts or replaces the cached node for key.
func (c *Cache) Add(key Key, n Node) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t.Add(key, n)
}
