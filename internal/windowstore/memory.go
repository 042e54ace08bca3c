package windowstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type event struct {
	at     time.Time
	member string
}

// bucket holds events sorted by time. A zero expiresAt means no expiry.
type bucket struct {
	events    []event
	expiresAt time.Time
}

// MemoryStore is the in-process fallback backend. Idle buckets are removed by
// a background sweeper started with Start; getters never evict.
type MemoryStore struct {
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	started bool
	closed  bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for bucket expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		m.now = now
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the sweeper goroutine. Calling Start more than once, or
// after Close, is a no-op.
func (m *MemoryStore) Start(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true
	go m.sweepLoop(interval)
}

// Close stops the sweeper goroutine.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep removes every bucket whose expiry has passed or that holds no events.
// It returns the number of buckets removed.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, b := range m.buckets {
		if len(b.events) == 0 || b.expired(now) {
			delete(m.buckets, k)
			removed++
		}
	}
	return removed
}

func (b *bucket) expired(now time.Time) bool {
	return !b.expiresAt.IsZero() && !now.Before(b.expiresAt)
}

func (b *bucket) insert(e event) {
	for _, existing := range b.events {
		if existing.member == e.member {
			return
		}
	}
	i := sort.Search(len(b.events), func(i int) bool {
		return b.events[i].at.After(e.at)
	})
	b.events = append(b.events, event{})
	copy(b.events[i+1:], b.events[i:])
	b.events[i] = e
}

func (b *bucket) purge(cutoff time.Time) int64 {
	i := sort.Search(len(b.events), func(i int) bool {
		return !b.events[i].at.Before(cutoff)
	})
	if i == 0 {
		return 0
	}
	b.events = append(b.events[:0:0], b.events[i:]...)
	return int64(i)
}

func (m *MemoryStore) checkCtx(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (m *MemoryStore) Record(ctx context.Context, key Key, at time.Time, nonce string) error {
	if err := m.checkCtx(ctx, "record"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getOrCreate(key).insert(event{at: at, member: Member(at, nonce)})
	return nil
}

func (m *MemoryStore) getOrCreate(key Key) *bucket {
	k := key.String()
	b, ok := m.buckets[k]
	if !ok {
		b = &bucket{}
		m.buckets[k] = b
	}
	return b
}

func (m *MemoryStore) PurgeBefore(ctx context.Context, key Key, cutoff time.Time) (int64, error) {
	if err := m.checkCtx(ctx, "purge"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key.String()]
	if !ok {
		return 0, nil
	}
	return b.purge(cutoff), nil
}

func (m *MemoryStore) Count(ctx context.Context, key Key) (int64, error) {
	if err := m.checkCtx(ctx, "count"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.buckets[key.String()]; ok {
		return int64(len(b.events)), nil
	}
	return 0, nil
}

func (m *MemoryStore) Oldest(ctx context.Context, key Key) (time.Time, bool, error) {
	if err := m.checkCtx(ctx, "oldest"); err != nil {
		return time.Time{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key.String()]
	if !ok || len(b.events) == 0 {
		return time.Time{}, false, nil
	}
	return b.events[0].at, true, nil
}

func (m *MemoryStore) SetTTL(ctx context.Context, key Key, ttl time.Duration) error {
	if err := m.checkCtx(ctx, "set ttl"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.buckets[key.String()]; ok {
		b.expiresAt = m.now().Add(ttl)
	}
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, key Key) error {
	if err := m.checkCtx(ctx, "clear"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.buckets, key.String())
	return nil
}

func (m *MemoryStore) ClearMatching(ctx context.Context, prefix string) (int64, error) {
	if err := m.checkCtx(ctx, "clear matching"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for k := range m.buckets {
		if strings.HasPrefix(k, prefix) {
			delete(m.buckets, k)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Snapshot(ctx context.Context, key Key, cutoff time.Time) (Snapshot, error) {
	if err := m.checkCtx(ctx, "snapshot"); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key.String()]
	if !ok {
		return Snapshot{}, nil
	}
	b.purge(cutoff)
	snap := Snapshot{Count: int64(len(b.events))}
	if len(b.events) > 0 {
		snap.Oldest = b.events[0].at
	}
	return snap, nil
}

func (m *MemoryStore) Append(ctx context.Context, key Key, at time.Time, nonce string, ttl time.Duration) error {
	if err := m.checkCtx(ctx, "append"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.getOrCreate(key)
	b.insert(event{at: at, member: Member(at, nonce)})
	b.expiresAt = m.now().Add(ttl)
	return nil
}

// Scan skips buckets that have expired but not yet been swept.
func (m *MemoryStore) Scan(ctx context.Context, prefix string) ([]Bucket, error) {
	if err := m.checkCtx(ctx, "scan"); err != nil {
		return nil, err
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	buckets := make([]Bucket, 0)
	for k, b := range m.buckets {
		if !strings.HasPrefix(k, prefix) || len(b.events) == 0 || b.expired(now) {
			continue
		}
		key, ok := ParseKey(k)
		if !ok {
			continue
		}
		ttl := time.Duration(-1)
		if !b.expiresAt.IsZero() {
			ttl = b.expiresAt.Sub(now)
		}
		buckets = append(buckets, Bucket{Key: key, Count: int64(len(b.events)), TTL: ttl})
	}
	return buckets, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return m.checkCtx(ctx, "ping")
}

// Len reports how many buckets are currently held, swept or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
