package observability

import (
	"context"
	"time"

	"gatekeeper/internal/windowstore"

	"go.opentelemetry.io/otel/attribute"
)

// InstrumentedWindowStore wraps a windowstore.Store with tracing and
// metrics. Errors counted here are the same ones the limiter absorbs as
// fail-open, so the error counter is the outage signal.
type InstrumentedWindowStore struct {
	inner windowstore.Store
	*instruments
}

func NewInstrumentedWindowStore(inner windowstore.Store) (*InstrumentedWindowStore, error) {
	in, err := newInstruments("gatekeeper/windowstore", "windowstore", "window store")
	if err != nil {
		return nil, err
	}
	return &InstrumentedWindowStore{inner: inner, instruments: in}, nil
}

func keyAttrs(key windowstore.Key) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("ratelimit.identifier", key.Identifier),
		attribute.String("ratelimit.endpoint", key.Endpoint),
	}
}

func (s *InstrumentedWindowStore) Record(ctx context.Context, key windowstore.Key, at time.Time, nonce string) error {
	ctx, span := s.startSpan(ctx, "Record", keyAttrs(key)...)
	start := time.Now()
	err := s.inner.Record(ctx, key, at, nonce)
	s.record(ctx, span, "Record", start, err)
	return err
}

func (s *InstrumentedWindowStore) PurgeBefore(ctx context.Context, key windowstore.Key, cutoff time.Time) (int64, error) {
	ctx, span := s.startSpan(ctx, "PurgeBefore", keyAttrs(key)...)
	start := time.Now()
	n, err := s.inner.PurgeBefore(ctx, key, cutoff)
	s.record(ctx, span, "PurgeBefore", start, err)
	return n, err
}

func (s *InstrumentedWindowStore) Count(ctx context.Context, key windowstore.Key) (int64, error) {
	ctx, span := s.startSpan(ctx, "Count", keyAttrs(key)...)
	start := time.Now()
	n, err := s.inner.Count(ctx, key)
	s.record(ctx, span, "Count", start, err)
	return n, err
}

func (s *InstrumentedWindowStore) Oldest(ctx context.Context, key windowstore.Key) (time.Time, bool, error) {
	ctx, span := s.startSpan(ctx, "Oldest", keyAttrs(key)...)
	start := time.Now()
	t, ok, err := s.inner.Oldest(ctx, key)
	s.record(ctx, span, "Oldest", start, err)
	return t, ok, err
}

func (s *InstrumentedWindowStore) SetTTL(ctx context.Context, key windowstore.Key, ttl time.Duration) error {
	ctx, span := s.startSpan(ctx, "SetTTL", keyAttrs(key)...)
	start := time.Now()
	err := s.inner.SetTTL(ctx, key, ttl)
	s.record(ctx, span, "SetTTL", start, err)
	return err
}

func (s *InstrumentedWindowStore) Clear(ctx context.Context, key windowstore.Key) error {
	ctx, span := s.startSpan(ctx, "Clear", keyAttrs(key)...)
	start := time.Now()
	err := s.inner.Clear(ctx, key)
	s.record(ctx, span, "Clear", start, err)
	return err
}

func (s *InstrumentedWindowStore) ClearMatching(ctx context.Context, prefix string) (int64, error) {
	ctx, span := s.startSpan(ctx, "ClearMatching", attribute.String("windowstore.prefix", prefix))
	start := time.Now()
	n, err := s.inner.ClearMatching(ctx, prefix)
	span.SetAttributes(attribute.Int64("windowstore.cleared", n))
	s.record(ctx, span, "ClearMatching", start, err)
	return n, err
}

func (s *InstrumentedWindowStore) Snapshot(ctx context.Context, key windowstore.Key, cutoff time.Time) (windowstore.Snapshot, error) {
	ctx, span := s.startSpan(ctx, "Snapshot", keyAttrs(key)...)
	start := time.Now()
	snap, err := s.inner.Snapshot(ctx, key, cutoff)
	span.SetAttributes(attribute.Int64("windowstore.count", snap.Count))
	s.record(ctx, span, "Snapshot", start, err)
	return snap, err
}

func (s *InstrumentedWindowStore) Append(ctx context.Context, key windowstore.Key, at time.Time, nonce string, ttl time.Duration) error {
	ctx, span := s.startSpan(ctx, "Append", keyAttrs(key)...)
	start := time.Now()
	err := s.inner.Append(ctx, key, at, nonce, ttl)
	s.record(ctx, span, "Append", start, err)
	return err
}

func (s *InstrumentedWindowStore) Scan(ctx context.Context, prefix string) ([]windowstore.Bucket, error) {
	ctx, span := s.startSpan(ctx, "Scan", attribute.String("windowstore.prefix", prefix))
	start := time.Now()
	buckets, err := s.inner.Scan(ctx, prefix)
	span.SetAttributes(attribute.Int("windowstore.buckets", len(buckets)))
	s.record(ctx, span, "Scan", start, err)
	return buckets, err
}

func (s *InstrumentedWindowStore) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedWindowStore) Close() error {
	return s.inner.Close()
}
