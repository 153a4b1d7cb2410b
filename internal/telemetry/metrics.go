package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationScope = "github.com/arachnid-agents/mission-control"

// Metrics holds the campaign counters. A nil *Metrics records nothing.
type Metrics struct {
	visits      metric.Int64Counter
	submissions metric.Int64Counter
	rejections  metric.Int64Counter
	badges      metric.Int64Counter
	mail        metric.Int64Counter
}

// NewMetrics registers the counters on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.Meter(instrumentationScope))
}

// NewMetricsFrom registers the counters on meter.
func NewMetricsFrom(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error
	if m.visits, err = meter.Int64Counter("mission.visits",
		metric.WithDescription("Status calls that touched an agent record")); err != nil {
		return nil, err
	}
	if m.submissions, err = meter.Int64Counter("mission.submissions",
		metric.WithDescription("Accepted mission submissions")); err != nil {
		return nil, err
	}
	if m.rejections, err = meter.Int64Counter("mission.rejections",
		metric.WithDescription("Rejected mission submissions by error kind")); err != nil {
		return nil, err
	}
	if m.badges, err = meter.Int64Counter("badge.renders",
		metric.WithDescription("Badge render attempts by outcome")); err != nil {
		return nil, err
	}
	if m.mail, err = meter.Int64Counter("feedback.mail",
		metric.WithDescription("Legacy feedback emails by outcome")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) Visit(ctx context.Context) {
	if m == nil {
		return
	}
	m.visits.Add(ctx, 1)
}

func (m *Metrics) SubmissionAccepted(ctx context.Context, mission string) {
	if m == nil {
		return
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("mission", mission)))
}

func (m *Metrics) SubmissionRejected(ctx context.Context, mission, kind string) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mission", mission),
		attribute.String("kind", kind),
	))
}

func (m *Metrics) BadgeRendered(ctx context.Context, mission string, ok bool) {
	if m == nil {
		return
	}
	m.badges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mission", mission),
		attribute.Bool("ok", ok),
	))
}

func (m *Metrics) MailSent(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.mail.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}
