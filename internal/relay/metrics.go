// ABOUTME: OpenTelemetry instruments for relay outcomes
// ABOUTME: Uses the global meter provider unless one is injected

package relay

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/2389/assistant-relay/internal/relay"

// Outcome labels recorded on relay.runs.
const (
	outcomeCompleted   = "completed"
	outcomeNoReply     = "no_reply"
	outcomePollTimeout = "poll_timeout"
	outcomeError       = "error"
)

type metrics struct {
	runs     metric.Int64Counter
	polls    metric.Int64Histogram
	threads  metric.Int64Counter
	frontend attribute.KeyValue
}

func newMetrics(meter metric.Meter, frontend string) *metrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	runs, err := meter.Int64Counter("relay.runs",
		metric.WithDescription("Inbound messages processed, by outcome"))
	if err != nil {
		otel.Handle(err)
	}
	polls, err := meter.Int64Histogram("relay.run.polls",
		metric.WithDescription("Status polls needed per run"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 8, 12, 15, 20, 30))
	if err != nil {
		otel.Handle(err)
	}
	threads, err := meter.Int64Counter("relay.threads.created",
		metric.WithDescription("Conversation threads created for new sessions"))
	if err != nil {
		otel.Handle(err)
	}

	return &metrics{
		runs:     runs,
		polls:    polls,
		threads:  threads,
		frontend: attribute.String("frontend", frontend),
	}
}

func (m *metrics) recordOutcome(ctx context.Context, outcome string) {
	m.runs.Add(ctx, 1, metric.WithAttributes(m.frontend, attribute.String("outcome", outcome)))
}

func (m *metrics) recordPolls(ctx context.Context, n int) {
	m.polls.Record(ctx, int64(n), metric.WithAttributes(m.frontend))
}

func (m *metrics) recordThreadCreated(ctx context.Context) {
	m.threads.Add(ctx, 1, metric.WithAttributes(m.frontend))
}
