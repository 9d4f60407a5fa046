package websocket

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the hub instruments
type Metrics struct {
	connectionsTotal   metric.Int64Counter
	connectionsActive  metric.Int64UpDownCounter
	connectionDuration metric.Float64Histogram
	eventsDelivered    metric.Int64Counter
	droppedMessages    metric.Int64Counter
}

// NewMetrics creates the hub instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	connectionsTotal, err := meter.Int64Counter(
		"license_stream_connections_total",
		metric.WithDescription("Total number of change stream connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connections counter: %w", err)
	}

	connectionsActive, err := meter.Int64UpDownCounter(
		"license_stream_connections_active",
		metric.WithDescription("Number of open change stream connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active connections gauge: %w", err)
	}

	connectionDuration, err := meter.Float64Histogram(
		"license_stream_connection_duration_seconds",
		metric.WithDescription("Duration of change stream connections"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection duration histogram: %w", err)
	}

	eventsDelivered, err := meter.Int64Counter(
		"license_stream_events_total",
		metric.WithDescription("Change events queued for delivery"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events counter: %w", err)
	}

	droppedMessages, err := meter.Int64Counter(
		"license_stream_dropped_total",
		metric.WithDescription("Clients disconnected because their buffer was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dropped counter: %w", err)
	}

	return &Metrics{
		connectionsTotal:   connectionsTotal,
		connectionsActive:  connectionsActive,
		connectionDuration: connectionDuration,
		eventsDelivered:    eventsDelivered,
		droppedMessages:    droppedMessages,
	}, nil
}

func (m *Metrics) connected(ctx context.Context) {
	if m == nil {
		return
	}
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsActive.Add(ctx, 1)
}

func (m *Metrics) disconnected(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.connectionsActive.Add(ctx, -1)
	m.connectionDuration.Record(ctx, d.Seconds())
}

func (m *Metrics) delivered(ctx context.Context, clients, dropped int) {
	if m == nil {
		return
	}
	m.eventsDelivered.Add(ctx, int64(clients), metric.WithAttributes(attribute.Bool("dropped", false)))
	if dropped > 0 {
		m.droppedMessages.Add(ctx, int64(dropped))
	}
}
