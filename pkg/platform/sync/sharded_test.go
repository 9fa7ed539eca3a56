package sync

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardedMap_ComputeInsertsAndUpdates(t *testing.T) {
	m := NewShardedMap[int]()

	m.Compute("fp:a", func(cur int, exists bool) (int, bool) {
		assert.False(t, exists)
		return cur + 1, true
	})
	m.Compute("fp:a", func(cur int, exists bool) (int, bool) {
		assert.True(t, exists)
		return cur + 1, true
	})

	v, ok := m.Get("fp:a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, m.Len())
}

func TestShardedMap_ComputeCanDelete(t *testing.T) {
	m := NewShardedMap[string]()
	m.Compute("k", func(string, bool) (string, bool) { return "v", true })
	m.Compute("k", func(string, bool) (string, bool) { return "", false })

	_, ok := m.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestShardedMap_SameKeySerializes(t *testing.T) {
	m := NewShardedMap[int]()
	var wg sync.WaitGroup

	// Hammering a single key must not lose increments.
	for range 200 {
		wg.Go(func() {
			m.Compute("same-key", func(cur int, _ bool) (int, bool) {
				return cur + 1, true
			})
		})
	}
	wg.Wait()

	v, _ := m.Get("same-key")
	assert.Equal(t, 200, v)
}

func TestShardedMap_DeleteIf(t *testing.T) {
	m := NewShardedMap[int]()
	for i := range 100 {
		key := fmt.Sprintf("key-%d", i)
		m.Compute(key, func(int, bool) (int, bool) { return i, true })
	}

	removed := m.DeleteIf(func(_ string, v int) bool { return v%2 == 0 })

	assert.Equal(t, 50, removed)
	assert.Equal(t, 50, m.Len())
	m.Range(func(_ string, v int) bool {
		assert.Equal(t, 1, v%2)
		return true
	})
}

func TestShardedMap_RangeStopsEarly(t *testing.T) {
	m := NewShardedMap[int]()
	for i := range 10 {
		m.Compute(fmt.Sprintf("k%d", i), func(int, bool) (int, bool) { return i, true })
	}

	visited := 0
	m.Range(func(string, int) bool {
		visited++
		return visited < 3
	})
	assert.Equal(t, 3, visited)
}

func TestShardedMap_Delete(t *testing.T) {
	m := NewShardedMap[int]()
	m.Compute("k", func(int, bool) (int, bool) { return 1, true })

	assert.True(t, m.Delete("k"))
	assert.False(t, m.Delete("k"))
}

func TestShardDistribution(t *testing.T) {
	shards := make(map[int]bool)
	keys := []string{"fp:203.0.113.1:abc", "fp:203.0.113.2:abc", "session:198.51.100.7", "session:10.0.0.1", "fp:x:1", "fp:y:2"}

	for _, key := range keys {
		shards[shardFor(key)] = true
	}

	assert.GreaterOrEqual(t, len(shards), 3, "expected keys to distribute across multiple shards")
	assert.Equal(t, 0, shardFor(""))
}

func TestHashString(t *testing.T) {
	assert.Equal(t, hashString("test"), hashString("test"))
	assert.NotEqual(t, hashString("test1"), hashString("test2"))
	assert.Equal(t, uint32(0), hashString(""))
}
