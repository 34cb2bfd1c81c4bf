package mandate

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authority-gate/internal/clock"
	"github.com/upb/authority-gate/models"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func testMandate(principal, action string, outcome models.Outcome, issued time.Time, ttl time.Duration) *models.Mandate {
	return &models.Mandate{
		MandateID: fmt.Sprintf("m-%s-%s", principal, action),
		Outcome:   outcome,
		Reason:    "test-rule",
		Principal: principal,
		Action:    action,
		Resource:  "*",
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
		Signature: []byte("sig"),
	}
}

func TestCache_LookupStore(t *testing.T) {
	clk := clock.Fake(epoch)
	cache := NewCache(10, clk)

	// Test cache miss
	m, ok := cache.Lookup("fp-1")
	assert.False(t, ok)
	assert.Nil(t, m)

	// Test cache store and hit
	cache.Store("fp-1", testMandate("worker", "process_order", models.OutcomeAllow, epoch, time.Minute))
	m, ok = cache.Lookup("fp-1")
	require.True(t, ok)
	assert.Equal(t, "process_order", m.Action)
	assert.Equal(t, models.OutcomeAllow, m.Outcome)

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestCache_ReturnsCopies(t *testing.T) {
	cache := NewCache(10, clock.Fake(epoch))
	original := testMandate("worker", "process_order", models.OutcomeAllow, epoch, time.Minute)
	cache.Store("fp-1", original)

	original.Outcome = models.OutcomeDeny
	first, ok := cache.Lookup("fp-1")
	require.True(t, ok)
	assert.Equal(t, models.OutcomeAllow, first.Outcome)

	first.Signature[0] = 'X'
	second, ok := cache.Lookup("fp-1")
	require.True(t, ok)
	assert.Equal(t, []byte("sig"), second.Signature)
}

func TestCache_NeverServesAtOrAfterExpiry(t *testing.T) {
	clk := clock.Fake(epoch)
	cache := NewCache(10, clk)
	cache.Store("fp-1", testMandate("worker", "process_order", models.OutcomeAllow, epoch, 10*time.Second))

	clk.Advance(10*time.Second - time.Nanosecond)
	_, ok := cache.Lookup("fp-1")
	assert.True(t, ok, "entry is live one nanosecond before expiry")

	clk.Advance(time.Nanosecond)
	_, ok = cache.Lookup("fp-1")
	assert.False(t, ok, "entry must not be served at expires_at")

	stats := cache.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, uint64(1), stats.Expired)
}

func TestCache_StoreSkipsExpiredMandate(t *testing.T) {
	clk := clock.Fake(epoch)
	cache := NewCache(10, clk)

	cache.Store("fp-1", testMandate("worker", "a", models.OutcomeAllow, epoch.Add(-time.Minute), time.Minute))
	cache.Store("fp-2", nil)

	assert.Equal(t, 0, cache.Stats().Size)
}

func TestCache_CachesDenials(t *testing.T) {
	cache := NewCache(10, clock.Fake(epoch))
	cache.Store("fp-1", testMandate("worker", "delete_order", models.OutcomeDeny, epoch, time.Minute))

	m, ok := cache.Lookup("fp-1")
	require.True(t, ok)
	assert.Equal(t, models.OutcomeDeny, m.Outcome)
	assert.False(t, m.Grants(epoch))
}

func TestCache_LRUEviction(t *testing.T) {
	cache := NewCache(2, clock.Fake(epoch))

	cache.Store("fp-1", testMandate("worker", "a", models.OutcomeAllow, epoch, time.Minute))
	cache.Store("fp-2", testMandate("worker", "b", models.OutcomeAllow, epoch, time.Minute))

	// Access fp-1 to make it most recently used
	_, ok := cache.Lookup("fp-1")
	require.True(t, ok)

	cache.Store("fp-3", testMandate("worker", "c", models.OutcomeAllow, epoch, time.Minute))

	_, ok = cache.Lookup("fp-2")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = cache.Lookup("fp-1")
	assert.True(t, ok)
	_, ok = cache.Lookup("fp-3")
	assert.True(t, ok)

	assert.Equal(t, uint64(1), cache.Stats().Evictions)
}

func TestCache_StoreReplacesExisting(t *testing.T) {
	cache := NewCache(10, clock.Fake(epoch))
	cache.Store("fp-1", testMandate("worker", "a", models.OutcomeDeny, epoch, time.Minute))
	cache.Store("fp-1", testMandate("worker", "a", models.OutcomeAllow, epoch, time.Minute))

	m, ok := cache.Lookup("fp-1")
	require.True(t, ok)
	assert.Equal(t, models.OutcomeAllow, m.Outcome)
	assert.Equal(t, 1, cache.Stats().Size)
}

func TestCache_Invalidate(t *testing.T) {
	cache := NewCache(10, clock.Fake(epoch))
	cache.Store("fp-1", testMandate("worker", "a", models.OutcomeAllow, epoch, time.Minute))
	cache.Store("fp-2", testMandate("worker", "b", models.OutcomeAllow, epoch, time.Minute))
	cache.Store("fp-3", testMandate("billing", "c", models.OutcomeAllow, epoch, time.Minute))

	cache.Invalidate("fp-1")
	_, ok := cache.Lookup("fp-1")
	assert.False(t, ok)

	removed := cache.InvalidatePrincipal("worker")
	assert.Equal(t, 1, removed)
	_, ok = cache.Lookup("fp-3")
	assert.True(t, ok)

	cache.Clear()
	assert.Equal(t, 0, cache.Stats().Size)
}

func TestCache_CleanupExpired(t *testing.T) {
	clk := clock.Fake(epoch)
	cache := NewCache(10, clk)

	cache.Store("short", testMandate("worker", "a", models.OutcomeAllow, epoch, time.Second))
	cache.Store("long", testMandate("worker", "b", models.OutcomeAllow, epoch, time.Hour))

	clk.Advance(time.Minute)
	removed := cache.CleanupExpired()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, cache.Stats().Size)
	_, ok := cache.Lookup("long")
	assert.True(t, ok)
}

func TestCache_StartCleanupWorker(t *testing.T) {
	clk := clock.Fake(epoch)
	cache := NewCache(10, clk)
	cache.Store("fp-1", testMandate("worker", "a", models.OutcomeAllow, epoch, time.Second))
	clk.Advance(time.Minute)

	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		cache.StartCleanupWorker(5*time.Millisecond, stopCh)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return cache.Stats().Size == 0
	}, time.Second, 5*time.Millisecond)

	close(stopCh)
	<-done
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache(50, clock.Fake(epoch))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				fp := fmt.Sprintf("fp-%d", (i+j)%75)
				cache.Store(fp, testMandate("worker", fp, models.OutcomeAllow, epoch, time.Minute))
				cache.Lookup(fp)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Stats().Size, 50)
}
