package windowstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Store {
		clock := &fakeClock{now: base}
		s := NewMemoryStore(WithClock(clock.Now))
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoryStore_SweepRemovesExpiredBuckets(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: base}
	s := NewMemoryStore(WithClock(clock.Now))
	defer s.Close()

	short := Key{Identifier: "ip:10.0.0.1", Endpoint: "login"}
	long := Key{Identifier: "ip:10.0.0.1", Endpoint: "default"}
	require.NoError(t, s.Append(ctx, short, base, "a", 10*time.Second))
	require.NoError(t, s.Append(ctx, long, base, "a", time.Hour))

	clock.Advance(11 * time.Second)

	// getters never evict
	n, err := s.Count(ctx, short)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, s.Len())

	// scan hides the expired bucket before it is swept
	buckets, err := s.Scan(ctx, "")
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, long, buckets[0].Key)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_SweepRemovesEmptyBuckets(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	key := Key{Identifier: "user:1", Endpoint: "login"}
	require.NoError(t, s.Record(ctx, key, base, "a"))
	_, err := s.PurgeBefore(ctx, key, base.Add(time.Second))
	require.NoError(t, err)

	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_BackgroundSweeper(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: base}
	s := NewMemoryStore(WithClock(clock.Now))
	defer s.Close()

	key := Key{Identifier: "user:1", Endpoint: "login"}
	require.NoError(t, s.Append(ctx, key, base, "a", time.Second))
	clock.Advance(2 * time.Second)

	s.Start(5 * time.Millisecond)
	s.Start(5 * time.Millisecond) // second call is a no-op

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	s.Start(time.Millisecond)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	// Start after Close must not launch a goroutine that never stops
	s.Start(time.Millisecond)
}

func TestMemoryStore_CancelledContextIsUnavailable(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Snapshot(ctx, Key{Identifier: "a", Endpoint: "b"}, base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestMemoryStore_ConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	key := Key{Identifier: "user:1", Endpoint: "login"}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Append(ctx, key, base.Add(time.Duration(i)*time.Millisecond), "n", time.Minute)
		}(i)
	}
	wg.Wait()

	n, err := s.Count(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(50), n)

	oldest, ok, err := s.Oldest(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, base, oldest)
}
