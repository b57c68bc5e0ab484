// Package table provides the sharded in-memory key table behind a store.
package table

import (
	"hash"
	"io"
	"iter"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShardCount is the default number of shards.
const DefaultShardCount = 16

// Table is a concurrent map from string keys to values, split into shards
// selected by murmur3 so readers on different keys rarely contend.
type Table[V any] struct {
	shards    []*shard[V]
	shardMask uint32
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// New creates a table with the default shard count.
func New[V any]() *Table[V] {
	return NewWithShards[V](DefaultShardCount)
}

// NewWithShards creates a table with shardCount shards. shardCount must be a
// power of two; other values fall back to DefaultShardCount.
func NewWithShards[V any](shardCount int) *Table[V] {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		shardCount = DefaultShardCount
	}
	t := &Table[V]{
		shards:    make([]*shard[V], shardCount),
		shardMask: uint32(shardCount - 1),
	}
	for i := range t.shards {
		t.shards[i] = &shard[V]{items: make(map[string]V)}
	}
	return t
}

// hashers pools streaming murmur3 digests. murmur3.Sum32 rebuilds pointers
// from uintptr arithmetic, which the race detector's checkptr mode rejects.
var hashers = sync.Pool{New: func() any { return murmur3.New32() }}

func hashKey(key string) uint32 {
	h := hashers.Get().(hash.Hash32)
	h.Reset()
	_, _ = io.WriteString(h, key)
	sum := h.Sum32()
	hashers.Put(h)
	return sum
}

func (t *Table[V]) shard(key string) *shard[V] {
	return t.shards[hashKey(key)&t.shardMask]
}

// Get returns the value stored under key.
func (t *Table[V]) Get(key string) (V, bool) {
	s := t.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Set stores value under key.
func (t *Table[V]) Set(key string, value V) {
	s := t.shard(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// SetIfAbsent stores value unless key is present, and returns the value now
// held together with whether it was stored.
func (t *Table[V]) SetIfAbsent(key string, value V) (V, bool) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items[key]; ok {
		return v, false
	}
	s.items[key] = value
	return value, true
}

// Delete removes key and returns the value it held.
func (t *Table[V]) Delete(key string) (V, bool) {
	s := t.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return v, ok
}

// Has reports whether key is present.
func (t *Table[V]) Has(key string) bool {
	_, ok := t.Get(key)
	return ok
}

// Len returns the number of keys.
func (t *Table[V]) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// Reset removes every key.
func (t *Table[V]) Reset() {
	for _, s := range t.shards {
		s.mu.Lock()
		s.items = make(map[string]V)
		s.mu.Unlock()
	}
}

// Range calls fn for each entry until fn returns false. Shards are locked one
// at a time, so the view is not a snapshot across shards. fn must not modify
// the table.
func (t *Table[V]) Range(fn func(key string, value V) bool) {
	for _, s := range t.shards {
		s.mu.RLock()
		for k, v := range s.items {
			if !fn(k, v) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Keys returns all keys in ascending order.
func (t *Table[V]) Keys() []string {
	keys := make([]string, 0, t.Len())
	t.Range(func(k string, _ V) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}

// Snapshot copies the table into a plain map.
func (t *Table[V]) Snapshot() map[string]V {
	out := make(map[string]V, t.Len())
	t.Range(func(k string, v V) bool {
		out[k] = v
		return true
	})
	return out
}

// All returns an iterator over a snapshot of the table in key order. The
// body of the loop may modify the table.
func (t *Table[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		snap := t.Snapshot()
		keys := make([]string, 0, len(snap))
		for k := range snap {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !yield(k, snap[k]) {
				return
			}
		}
	}
}
