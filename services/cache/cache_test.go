package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGet(t *testing.T) {
	c := NewMemory[string]()

	c.Set("k", "v", time.Minute)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestMemory_GetMissing(t *testing.T) {
	c := NewMemory[int]()

	got, ok := c.Get("absent")
	assert.False(t, ok)
	assert.Zero(t, got)
}

func TestMemory_TTLExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := NewMemoryWithClock[string](func() time.Time { return clock() })

	c.Set("k", "v", 10*time.Second)

	_, ok := c.Get("k")
	require.True(t, ok)

	// Advance past the ttl; the entry must be lazily evicted on read.
	now = now.Add(11 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, 0, stats.Size)
}

func TestMemory_ZeroTTLFallsBackToDefault(t *testing.T) {
	now := time.Now()
	c := NewMemoryWithClock[string](func() time.Time { return now })

	c.Set("k", "v", 0)

	now = now.Add(DefaultTTL - time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestMemory_Delete(t *testing.T) {
	c := NewMemory[string]()

	c.Set("k", "v", time.Minute)
	c.Delete("k")

	_, ok := c.Get("k")
	assert.False(t, ok)

	// Deleting a missing key is a no-op.
	c.Delete("absent")
}

func TestMemory_Clear(t *testing.T) {
	c := NewMemory[int]()

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Clear()

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestMemory_Overwrite(t *testing.T) {
	c := NewMemory[string]()

	c.Set("k", "old", time.Minute)
	c.Set("k", "new", time.Minute)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got)
}

func TestMemory_Stats(t *testing.T) {
	c := NewMemory[string]()

	c.Set("k", "v", time.Minute)
	_, _ = c.Get("k")
	_, _ = c.Get("k")
	_, _ = c.Get("absent")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	c := NewMemory[int]()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%4)
			c.Set(key, i, time.Minute)
			_, _ = c.Get(key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, c.Stats().Size)
}
