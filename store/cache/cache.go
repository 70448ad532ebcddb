// Copyright (c) 2026 The Conclave developers.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package cache is the hot in-memory layer in front of the backing
// store. It maps (table, key) to already-decrypted values so that
// frequently-read records skip the decrypt+deserialize cycle. It never
// consults the backing store itself and is never authoritative: on any
// ambiguity the backing store wins.
package cache

import (
	"hash/fnv"
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"
)

const shardCount = 32

// DefaultTableCap is the per-table entry bound used when no explicit
// cap is configured.
const DefaultTableCap = 4096

// Cache is a sharded map from (table, key) to decrypted values. Reads
// and writes on different keys contend only on their shard. Each table
// is bounded by an LRU cap; entries pinned by an in-flight write are
// held outside the LRU and cannot be evicted.
type Cache struct {
	shards   [shardCount]shard
	caps     map[string]int
	shardCap int
}

type shard struct {
	mu     sync.Mutex
	tables map[string]*simplelru.LRU
	pinned map[string]pin
}

// pin marks a key with a write in flight. Value holds the last known
// cached value, if any, so a concurrent reader can still hit.
type pin struct {
	value    interface{}
	hasValue bool
	count    int
}

// New creates a cache. caps overrides the per-table entry bound; tables
// absent from caps use DefaultTableCap.
func New(caps map[string]int) *Cache {
	c := &Cache{caps: caps}
	for i := range c.shards {
		c.shards[i].tables = make(map[string]*simplelru.LRU)
		c.shards[i].pinned = make(map[string]pin)
	}
	return c
}

func (c *Cache) shard(table string, key []byte) *shard {
	h := fnv.New32a()
	h.Write([]byte(table))
	h.Write([]byte{0})
	h.Write(key)
	return &c.shards[h.Sum32()%shardCount]
}

func (c *Cache) tableCap(table string) int {
	if n, ok := c.caps[table]; ok && n > 0 {
		capPerShard := n / shardCount
		if capPerShard < 1 {
			capPerShard = 1
		}
		return capPerShard
	}
	return DefaultTableCap / shardCount
}

func (s *shard) lru(table string, capacity int) *simplelru.LRU {
	l, ok := s.tables[table]
	if !ok {
		// NewLRU only fails on a non-positive size.
		l, _ = simplelru.NewLRU(capacity, nil)
		s.tables[table] = l
	}
	return l
}

func cacheKey(table string, key []byte) string {
	return table + "\x00" + string(key)
}

// Get returns the cached value for (table, key). A miss means only that
// the cache has no copy; the caller falls through to the backing store.
func (c *Cache) Get(table string, key []byte) (interface{}, bool) {
	s := c.shard(table, key)
	ck := cacheKey(table, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pinned[ck]; ok {
		return p.value, p.hasValue
	}
	if l, ok := s.tables[table]; ok {
		return l.Get(ck)
	}
	return nil, false
}

// Insert stores a decrypted value. Callers insert strictly after the
// corresponding write transaction has committed, never before.
func (c *Cache) Insert(table string, key []byte, value interface{}) {
	s := c.shard(table, key)
	ck := cacheKey(table, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pinned[ck]; ok {
		p.value = value
		p.hasValue = true
		s.pinned[ck] = p
		return
	}
	s.lru(table, c.tableCap(table)).Add(ck, value)
}

// Invalidate drops any cached copy of (table, key).
func (c *Cache) Invalidate(table string, key []byte) {
	s := c.shard(table, key)
	ck := cacheKey(table, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pinned[ck]; ok {
		p.value = nil
		p.hasValue = false
		s.pinned[ck] = p
		return
	}
	if l, ok := s.tables[table]; ok {
		l.Remove(ck)
	}
}

// Pin marks (table, key) as having a write in flight. While pinned the
// entry lives outside the LRU and cannot be evicted. Pins nest.
func (c *Cache) Pin(table string, key []byte) {
	s := c.shard(table, key)
	ck := cacheKey(table, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pinned[ck]; ok {
		p.count++
		s.pinned[ck] = p
		return
	}
	p := pin{count: 1}
	if l, ok := s.tables[table]; ok {
		if v, hit := l.Get(ck); hit {
			p.value, p.hasValue = v, true
			l.Remove(ck)
		}
	}
	s.pinned[ck] = p
}

// Unpin releases a pin. When the last pin drops, the entry (if any)
// moves back under the LRU bound.
func (c *Cache) Unpin(table string, key []byte) {
	s := c.shard(table, key)
	ck := cacheKey(table, key)

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pinned[ck]
	if !ok {
		return
	}
	p.count--
	if p.count > 0 {
		s.pinned[ck] = p
		return
	}
	delete(s.pinned, ck)
	if p.hasValue {
		s.lru(table, c.tableCap(table)).Add(ck, p.value)
	}
}

// Len reports the total number of cached entries, pinned included.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for _, l := range s.tables {
			n += l.Len()
		}
		n += len(s.pinned)
		s.mu.Unlock()
	}
	return n
}
