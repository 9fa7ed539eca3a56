package sync

import (
	"sync"
)

const shardCount = 32

// ShardedMap is a string-keyed map split across 32 independently locked shards.
// Callbacks run while the key's shard lock is held, so a read-modify-write on a
// single key is linearizable. Callbacks must not call back into the same map.
type ShardedMap[V any] struct {
	shards [shardCount]mapShard[V]
}

type mapShard[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// NewShardedMap creates an empty ShardedMap.
func NewShardedMap[V any]() *ShardedMap[V] {
	m := &ShardedMap[V]{}
	for i := range m.shards {
		m.shards[i].items = make(map[string]V)
	}
	return m
}

// Compute runs fn on the current value for key under the shard lock.
// fn returns the value to store and whether to keep it; keep=false deletes the key.
func (m *ShardedMap[V]) Compute(key string, fn func(current V, exists bool) (next V, keep bool)) {
	shard := &m.shards[shardFor(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	current, exists := shard.items[key]
	next, keep := fn(current, exists)
	if !keep {
		delete(shard.items, key)
		return
	}
	shard.items[key] = next
}

// Get returns the value stored for key.
func (m *ShardedMap[V]) Get(key string) (V, bool) {
	shard := &m.shards[shardFor(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	v, ok := shard.items[key]
	return v, ok
}

// Delete removes key and reports whether it was present.
func (m *ShardedMap[V]) Delete(key string) bool {
	shard := &m.shards[shardFor(key)]
	shard.mu.Lock()
	defer shard.mu.Unlock()
	_, ok := shard.items[key]
	delete(shard.items, key)
	return ok
}

// DeleteIf removes every entry for which pred returns true and returns the number removed.
// Shards are locked one at a time, so concurrent writers on other shards are not blocked.
func (m *ShardedMap[V]) DeleteIf(pred func(key string, v V) bool) int {
	removed := 0
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.Lock()
		for k, v := range shard.items {
			if pred(k, v) {
				delete(shard.items, k)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// Range calls fn for each entry until fn returns false.
// The view is consistent per shard, not across the whole map.
func (m *ShardedMap[V]) Range(fn func(key string, v V) bool) {
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.Lock()
		for k, v := range shard.items {
			if !fn(k, v) {
				shard.mu.Unlock()
				return
			}
		}
		shard.mu.Unlock()
	}
}

// Len returns the number of entries across all shards.
func (m *ShardedMap[V]) Len() int {
	total := 0
	for i := range m.shards {
		shard := &m.shards[i]
		shard.mu.Lock()
		total += len(shard.items)
		shard.mu.Unlock()
	}
	return total
}

// shardFor returns the shard index for the given key.
// Empty keys default to shard 0.
func shardFor(key string) int {
	if key == "" {
		return 0
	}
	return int(hashString(key) % shardCount)
}

// hashString provides a simple hash for shard selection.
func hashString(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}
