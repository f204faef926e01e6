// Package lrucache implements a fully-associative, byte-capacity-bounded LRU
// cache keyed by string, generalized from the API surface gcsfuse's own
// internal/lrucache package exposes (New/Insert/LookUp/Erase/CheckInvariants,
// with capacity measured in bytes rather than item count). The block cache
// (internal/blockcache) is its sole consumer here, keying entries by block
// tag, but the type itself carries no block-device knowledge.
package lrucache

import "container/list"

// ValueType is anything cacheable; Size reports how many bytes of capacity
// the value consumes.
type ValueType interface {
	Size() uint64
}

type entry struct {
	key   string
	value ValueType
}

// Cache is a fully-associative LRU with eviction driven by total byte size,
// not entry count.
type Cache struct {
	capacity uint64
	used     uint64

	ll    *list.List // front = most recently used
	index map[string]*list.Element
}

// New returns an empty Cache with the given byte capacity.
func New(capacity uint64) Cache {
	return Cache{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Insert adds or overwrites key, evicting least-recently-used entries until
// the cache again fits within capacity. It returns every evicted value, in
// eviction order, and panics if value is nil (mirrors the teacher's
// defensive "nil value" panic: a nil value would make LookUp's nil-means-
// absent contract ambiguous).
func (c *Cache) Insert(key string, value ValueType) []ValueType {
	if value == nil {
		panic("lrucache: nil value")
	}

	if el, ok := c.index[key]; ok {
		c.used -= el.Value.(*entry).value.Size()
		c.ll.Remove(el)
		delete(c.index, key)
	}

	el := c.ll.PushFront(&entry{key: key, value: value})
	c.index[key] = el
	c.used += value.Size()

	var evicted []ValueType
	for c.used > c.capacity {
		back := c.ll.Back()
		if back == nil {
			break
		}
		e := back.Value.(*entry)
		c.ll.Remove(back)
		delete(c.index, e.key)
		c.used -= e.value.Size()
		evicted = append(evicted, e.value)
	}
	return evicted
}

// LookUp returns the value for key, promoting it to most-recently-used, or
// nil if key is absent.
func (c *Cache) LookUp(key string) ValueType {
	el, ok := c.index[key]
	if !ok {
		return nil
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).value
}

// Erase removes key and returns its value, or nil if key was absent.
func (c *Cache) Erase(key string) ValueType {
	el, ok := c.index[key]
	if !ok {
		return nil
	}
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.index, key)
	c.used -= e.value.Size()
	return e.value
}

// Len returns the number of resident entries.
func (c *Cache) Len() int { return c.ll.Len() }

// Keys returns resident keys from most- to least-recently-used, for Flush
// implementations that must write back dirty entries in cache order.
func (c *Cache) Keys() []string {
	keys := make([]string, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// CheckInvariants panics if the cache's internal bookkeeping has drifted:
// every indexed key must resolve to a list element, every list element must
// be indexed, and the tracked used-byte total must equal the sum of
// resident sizes.
func (c *Cache) CheckInvariants() {
	if len(c.index) != c.ll.Len() {
		panic("lrucache: index/list length mismatch")
	}
	var sum uint64
	for el := c.ll.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		if c.index[e.key] != el {
			panic("lrucache: index points to wrong element for key " + e.key)
		}
		sum += e.value.Size()
	}
	if sum != c.used {
		panic("lrucache: used byte count drifted from resident entries")
	}
}
