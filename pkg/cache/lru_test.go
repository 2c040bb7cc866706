package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCapacityBound(t *testing.T) {
	l := NewLRU(3)
	for i := 0; i < 10; i++ {
		l.Set(fmt.Sprintf("k%d", i), "v")
		assert.LessOrEqual(t, l.Len(), 3)
	}
	assert.Equal(t, 3, l.Len())

	// Oldest entries were evicted.
	_, ok := l.Get("k0")
	assert.False(t, ok)
	_, ok = l.Get("k9")
	assert.True(t, ok)
}

func TestLRUGetPromotesToMostRecent(t *testing.T) {
	l := NewLRU(2)
	l.Set("a", "1")
	l.Set("b", "2")

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := l.Get("a")
	require.True(t, ok)

	l.Set("c", "3")

	_, ok = l.Get("a")
	assert.True(t, ok)
	_, ok = l.Get("b")
	assert.False(t, ok)
}

func TestLRUSetExistingUpdatesAndPromotes(t *testing.T) {
	l := NewLRU(2)
	l.Set("a", "1")
	l.Set("b", "2")
	l.Set("a", "updated")
	l.Set("c", "3")

	val, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, "updated", val)
	_, ok = l.Get("b")
	assert.False(t, ok)
}

func TestLRUDelete(t *testing.T) {
	l := NewLRU(2)
	l.Set("a", "1")
	l.Delete("a")
	_, ok := l.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len())

	// Deleting an absent key is a no-op.
	l.Delete("missing")
}

func TestLRUStats(t *testing.T) {
	l := NewLRU(2)
	l.Set("a", "1")

	l.Get("a")
	l.Get("a")
	l.Get("missing")

	stats := l.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
}
