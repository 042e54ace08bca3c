package observability

import (
	"context"

	"gatekeeper/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Decision outcomes recorded by LimiterMetrics.
const (
	OutcomeAllowed  = "allowed"
	OutcomeDenied   = "denied"
	OutcomeFailOpen = "fail_open"
)

// LimiterMetrics counts limiter decisions by outcome. It satisfies
// ratelimit.Observer. Endpoints are not recorded as attributes since request
// paths are unbounded.
type LimiterMetrics struct {
	decisions metric.Int64Counter
}

var _ ratelimit.Observer = (*LimiterMetrics)(nil)

func NewLimiterMetrics() (*LimiterMetrics, error) {
	meter := otel.Meter("gatekeeper/ratelimit")

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Number of rate limit decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}
	return &LimiterMetrics{decisions: decisions}, nil
}

func (m *LimiterMetrics) ObserveDecision(ctx context.Context, endpoint string, d ratelimit.Decision) {
	m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(d))))
}

func outcome(d ratelimit.Decision) string {
	switch {
	case d.FailOpen:
		return OutcomeFailOpen
	case d.Allowed:
		return OutcomeAllowed
	default:
		return OutcomeDenied
	}
}
