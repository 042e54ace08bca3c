package observability

import (
	"context"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/storage"

	"go.opentelemetry.io/otel/attribute"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner storage.Storage
	*instruments
}

// NewInstrumentedStorage creates a new storage wrapper that records trace spans,
// operation latency histograms, and error counters for every storage method call.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	in, err := newInstruments("gatekeeper/storage", "storage", "policy storage")
	if err != nil {
		return nil, err
	}
	return &InstrumentedStorage{inner: inner, instruments: in}, nil
}

func ruleAttrs(rule *models.PolicyRule) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("rule.id", rule.ID),
		attribute.String("rule.endpoint", rule.Endpoint),
		attribute.String("rule.tier", rule.Tier),
	}
}

func (s *InstrumentedStorage) ListRules(ctx context.Context) ([]*models.PolicyRule, error) {
	ctx, span := s.startSpan(ctx, "ListRules")
	start := time.Now()
	result, err := s.inner.ListRules(ctx)
	if err == nil {
		span.SetAttributes(attribute.Int("rule.count", len(result)))
	}
	s.record(ctx, span, "ListRules", start, err)
	return result, err
}

func (s *InstrumentedStorage) GetRule(ctx context.Context, id string) (*models.PolicyRule, error) {
	ctx, span := s.startSpan(ctx, "GetRule", attribute.String("rule.id", id))
	start := time.Now()
	result, err := s.inner.GetRule(ctx, id)
	s.record(ctx, span, "GetRule", start, err)
	return result, err
}

func (s *InstrumentedStorage) GetRuleByKey(ctx context.Context, endpoint, tier string) (*models.PolicyRule, error) {
	ctx, span := s.startSpan(ctx, "GetRuleByKey",
		attribute.String("rule.endpoint", endpoint),
		attribute.String("rule.tier", tier),
	)
	start := time.Now()
	result, err := s.inner.GetRuleByKey(ctx, endpoint, tier)
	s.record(ctx, span, "GetRuleByKey", start, err)
	return result, err
}

func (s *InstrumentedStorage) CreateRule(ctx context.Context, rule *models.PolicyRule) error {
	ctx, span := s.startSpan(ctx, "CreateRule", ruleAttrs(rule)...)
	start := time.Now()
	err := s.inner.CreateRule(ctx, rule)
	s.record(ctx, span, "CreateRule", start, err)
	return err
}

func (s *InstrumentedStorage) UpdateRule(ctx context.Context, rule *models.PolicyRule) error {
	ctx, span := s.startSpan(ctx, "UpdateRule", ruleAttrs(rule)...)
	start := time.Now()
	err := s.inner.UpdateRule(ctx, rule)
	s.record(ctx, span, "UpdateRule", start, err)
	return err
}

func (s *InstrumentedStorage) DeleteRule(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "DeleteRule", attribute.String("rule.id", id))
	start := time.Now()
	err := s.inner.DeleteRule(ctx, id)
	s.record(ctx, span, "DeleteRule", start, err)
	return err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
