package expiry_test

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rugwirobaker/ember/internal/expiry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newCache(ttl time.Duration, clk *clock) *expiry.Cache[string] {
	return expiry.NewWithConfig(expiry.Config[string]{TTL: ttl, Now: clk.Now})
}

func TestCacheGetBeforeAndAfterTTL(t *testing.T) {
	assert := assert.New(t)
	clk := newClock()
	cache := newCache(2*time.Second, clk)

	cache.Set("k", "v")

	v, ok := cache.Get("k")
	assert.True(ok)
	assert.Equal("v", v)

	clk.Advance(1999 * time.Millisecond)
	_, ok = cache.Get("k")
	assert.True(ok, "entry should still be live just before expiry")

	clk.Advance(time.Millisecond)
	v, ok = cache.Get("k")
	assert.False(ok, "entry must not be readable at its expiry instant")
	assert.Empty(v)
}

func TestCacheZeroAndNegativeTTL(t *testing.T) {
	for _, ttl := range []time.Duration{0, -time.Second} {
		t.Run(ttl.String(), func(t *testing.T) {
			cache := newCache(time.Hour, newClock())

			cache.SetWithTTL("k", "v", ttl)

			_, ok := cache.Get("k")
			assert.False(t, ok)
			assert.Equal(t, 0, cache.Len())
		})
	}
}

func TestCacheZeroTTLEvictsPreviousEntry(t *testing.T) {
	var evicted []string
	cache := expiry.NewWithConfig(expiry.Config[string]{
		TTL:     time.Hour,
		OnEvict: func(_ string, v string) { evicted = append(evicted, v) },
	})

	cache.Set("k", "old")
	cache.SetWithTTL("k", "new", 0)

	_, ok := cache.Get("k")
	assert.False(t, ok)
	assert.Equal(t, []string{"old", "new"}, evicted)
}

func TestCacheOverwriteResetsExpiry(t *testing.T) {
	assert := assert.New(t)
	clk := newClock()
	cache := newCache(time.Second, clk)

	cache.Set("k", "v1")
	clk.Advance(900 * time.Millisecond)
	cache.Set("k", "v2")
	clk.Advance(900 * time.Millisecond)

	v, ok := cache.Get("k")
	assert.True(ok)
	assert.Equal("v2", v)
}

func TestCacheEvictsOnRead(t *testing.T) {
	clk := newClock()
	cache := newCache(time.Second, clk)

	cache.Set("k", "v")
	clk.Advance(2 * time.Second)
	require.Equal(t, 1, cache.Len(), "expired entries stay until accessed")

	_, ok := cache.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

func TestCacheGetDoesNotSlide(t *testing.T) {
	clk := newClock()
	cache := newCache(time.Second, clk)

	cache.Set("k", "v")
	for i := 0; i < 3; i++ {
		clk.Advance(400 * time.Millisecond)
		cache.Get("k")
	}

	_, ok := cache.Get("k")
	assert.False(t, ok, "reads must not extend expiry")
}

func TestCacheTouchSlides(t *testing.T) {
	assert := assert.New(t)
	clk := newClock()
	cache := newCache(time.Second, clk)

	cache.SetWithTTL("k", "v", 500*time.Millisecond)
	clk.Advance(400 * time.Millisecond)
	assert.True(cache.Touch("k"))

	clk.Advance(400 * time.Millisecond)
	_, ok := cache.Get("k")
	assert.True(ok, "touch re-arms with the entry's own ttl")

	clk.Advance(500 * time.Millisecond)
	assert.False(cache.Touch("k"))
}

func TestCacheNever(t *testing.T) {
	clk := newClock()
	cache := newCache(time.Second, clk)

	cache.SetWithTTL("k", "v", expiry.Never)
	clk.Advance(24 * 365 * time.Hour)

	v, ok := cache.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	at, ok := cache.ExpiresAt("k")
	assert.True(t, ok)
	assert.True(t, at.IsZero())
}

func TestCacheRemoveAndClear(t *testing.T) {
	assert := assert.New(t)
	var evicted []string
	cache := expiry.NewWithConfig(expiry.Config[string]{
		TTL:     time.Hour,
		OnEvict: func(k string, _ string) { evicted = append(evicted, k) },
	})

	cache.Set("a", "1")
	cache.Set("b", "2")
	cache.Set("c", "3")

	cache.Remove("a")
	cache.Remove("a")
	cache.Remove("missing")
	assert.Equal(2, cache.Len())

	cache.Clear()
	assert.Equal(0, cache.Len())
	for _, k := range []string{"a", "b", "c"} {
		_, ok := cache.Get(k)
		assert.False(ok, k)
	}

	sort.Strings(evicted)
	if diff := cmp.Diff([]string{"a", "b", "c"}, evicted); diff != "" {
		t.Errorf("evicted keys mismatch (-want +got):\n%s", diff)
	}
}

func TestCachePurge(t *testing.T) {
	clk := newClock()
	cache := newCache(time.Second, clk)

	cache.Set("short", "1")
	cache.SetWithTTL("long", "2", time.Hour)
	clk.Advance(2 * time.Second)

	assert.Equal(t, 1, cache.Purge())
	assert.Equal(t, 1, cache.Len())
}

func TestCacheConcurrentLastWriteWins(t *testing.T) {
	cache := expiry.New[string](time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			cache.Set("k", fmt.Sprintf("v%d", i))
		}(i)
		go func() {
			defer wg.Done()
			if v, ok := cache.Get("k"); ok {
				assert.Regexp(t, `^v\d+$`, v)
			}
		}()
	}
	wg.Wait()

	cache.Set("k", "final")
	v, _ := cache.Get("k")
	assert.Equal(t, "final", v)
}

func TestCacheRealClock(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps")
	}
	cache := expiry.New[string](50 * time.Millisecond)

	cache.Set("k", "v")
	v, ok := cache.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", v)

	time.Sleep(80 * time.Millisecond)
	_, ok = cache.Get("k")
	assert.False(t, ok)
}
