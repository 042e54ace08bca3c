// Package ratelimit implements sliding-window admission control. A Limiter
// decides per (identifier, endpoint) whether a request fits in the last
// window's budget, using an ordered event log held in a windowstore.Store.
// The HTTP middleware gates requests with it and sets X-RateLimit-* headers.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"gatekeeper/internal/windowstore"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultGrace is added to the window when setting a bucket's expiry.
const DefaultGrace = 60 * time.Second

// ErrEndpointWithoutIdentifier rejects Clear calls naming only an endpoint.
var ErrEndpointWithoutIdentifier = errors.New("endpoint requires an identifier")

// Decision is the outcome of one Check. It is computed per call and never stored.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      int64 // epoch seconds when the oldest counted event leaves the window
	RetryAfter int64 // seconds, set only when denied
	FailOpen   bool  // store unavailable, request admitted without counting
}

// Observer is notified of every decision. Implementations must be cheap and
// safe for concurrent use.
type Observer interface {
	ObserveDecision(ctx context.Context, endpoint string, d Decision)
}

// Limiter is stateless apart from its store handle; all bucket state lives in
// the store.
//
// Check is a read followed by a conditional write. Two concurrent checks on
// the same key can both see count < limit and both record, so a bucket may
// briefly exceed its limit by the number of racing requests. This overshoot
// is bounded and accepted; exact enforcement would need an atomic
// compare-and-record primitive in the store.
type Limiter struct {
	store    windowstore.Store
	now      func() time.Time
	nonce    func() string
	grace    time.Duration
	observer Observer

	warnLimiter *rate.Limiter
	suppressed  atomic.Int64
}

// Option configures a Limiter.
type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func WithGrace(grace time.Duration) Option {
	return func(l *Limiter) {
		l.grace = grace
	}
}

func WithObserver(o Observer) Option {
	return func(l *Limiter) {
		l.observer = o
	}
}

// WithWarnInterval sets the minimum spacing between fail-open warnings.
func WithWarnInterval(d time.Duration) Option {
	return func(l *Limiter) {
		l.warnLimiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func NewLimiter(store windowstore.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:       store,
		now:         time.Now,
		nonce:       uuid.NewString,
		grace:       DefaultGrace,
		warnLimiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store returns the underlying window store.
func (l *Limiter) Store() windowstore.Store {
	return l.store
}

// Check decides whether one more request for (identifier, endpoint) fits in
// limit requests per window. Allowed requests are recorded; denied ones are
// not. Store failures never surface: the request is admitted with FailOpen set.
func (l *Limiter) Check(ctx context.Context, identifier, endpoint string, limit int, window time.Duration) Decision {
	d := l.check(ctx, identifier, endpoint, limit, window)
	if l.observer != nil {
		l.observer.ObserveDecision(ctx, endpoint, d)
	}
	return d
}

func (l *Limiter) check(ctx context.Context, identifier, endpoint string, limit int, window time.Duration) Decision {
	key := windowstore.Key{Identifier: identifier, Endpoint: endpoint}
	now := l.now()

	snap, err := l.store.Snapshot(ctx, key, now.Add(-window))
	if err != nil {
		return l.failOpen(key, limit, window, now, err)
	}

	reset := now.Add(window)
	if snap.Count > 0 {
		reset = snap.Oldest.Add(window)
	}

	if snap.Count < int64(limit) {
		if err := l.store.Append(ctx, key, now, l.nonce(), window+l.grace); err != nil {
			return l.failOpen(key, limit, window, now, err)
		}
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - int(snap.Count) - 1,
			Reset:     reset.Unix(),
		}
	}

	return Decision{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		Reset:      reset.Unix(),
		RetryAfter: retryAfter(reset, now),
	}
}

// retryAfter rounds the wait up to whole seconds. A denied caller always
// waits at least one second.
func retryAfter(reset, now time.Time) int64 {
	wait := reset.Sub(now).Seconds()
	secs := int64(math.Ceil(math.Max(0, wait)))
	if secs < 1 {
		return 1
	}
	return secs
}

func (l *Limiter) failOpen(key windowstore.Key, limit int, window time.Duration, now time.Time, err error) Decision {
	if l.warnLimiter.Allow() {
		slog.Warn("Rate limit store unavailable, allowing request",
			"identifier", key.Identifier,
			"endpoint", key.Endpoint,
			"suppressed", l.suppressed.Swap(0),
			"error", err)
	} else {
		l.suppressed.Add(1)
	}

	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit,
		Reset:     now.Add(window).Unix(),
		FailOpen:  true,
	}
}

// Clear removes buckets: one when both arguments are set, all of an
// identifier's when only it is set, every bucket when neither is. It returns
// how many buckets were removed.
func (l *Limiter) Clear(ctx context.Context, identifier, endpoint string) (int64, error) {
	switch {
	case identifier != "" && endpoint != "":
		key := windowstore.Key{Identifier: identifier, Endpoint: endpoint}
		n, err := l.store.Count(ctx, key)
		if err != nil {
			return 0, err
		}
		if err := l.store.Clear(ctx, key); err != nil {
			return 0, err
		}
		if n > 0 {
			return 1, nil
		}
		return 0, nil
	case endpoint != "":
		return 0, ErrEndpointWithoutIdentifier
	default:
		return l.store.ClearMatching(ctx, windowstore.IdentifierPrefix(identifier))
	}
}

// Usage is the live state of one bucket.
type Usage struct {
	Count        int64
	TTLRemaining time.Duration
}

// Stats lists the live buckets of identifier keyed by endpoint.
func (l *Limiter) Stats(ctx context.Context, identifier string) (map[string]Usage, error) {
	buckets, err := l.store.Scan(ctx, windowstore.IdentifierPrefix(identifier))
	if err != nil {
		return nil, err
	}
	out := make(map[string]Usage, len(buckets))
	for _, b := range buckets {
		out[b.Key.Endpoint] = Usage{Count: b.Count, TTLRemaining: b.TTL}
	}
	return out, nil
}

// Peek reports the usage of a bucket within window without recording an
// event. Expired events are purged as a side effect.
func (l *Limiter) Peek(ctx context.Context, identifier, endpoint string, window time.Duration) (windowstore.Snapshot, error) {
	key := windowstore.Key{Identifier: identifier, Endpoint: endpoint}
	return l.store.Snapshot(ctx, key, l.now().Add(-window))
}
