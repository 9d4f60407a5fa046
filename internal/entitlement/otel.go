package entitlement

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
)

const TracerName = "entitlement-engine"

// Metrics holds the engine's OpenTelemetry instruments
type Metrics struct {
	Checks           metric.Int64Counter
	CheckDuration    metric.Float64Histogram
	UnlockAttempts   metric.Int64Counter
	DemoActivations  metric.Int64Counter
	Revocations      metric.Int64Counter
	TamperDetections metric.Int64Counter
	RemoteFailures   metric.Int64Counter
	Heartbeats       metric.Int64Counter
	ActiveMonitors   metric.Int64UpDownCounter
}

// InitializeMetrics creates the engine instruments on meter
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Checks, err = meter.Int64Counter(
		"entitlement_checks_total",
		metric.WithDescription("Total number of entitlement checks by outcome state"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create checks counter: %w", err)
	}

	m.CheckDuration, err = meter.Float64Histogram(
		"entitlement_check_duration_seconds",
		metric.WithDescription("Entitlement check duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create check duration histogram: %w", err)
	}

	m.UnlockAttempts, err = meter.Int64Counter(
		"entitlement_unlock_attempts_total",
		metric.WithDescription("Total number of activation code attempts by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create unlock attempts counter: %w", err)
	}

	m.DemoActivations, err = meter.Int64Counter(
		"entitlement_demo_activations_total",
		metric.WithDescription("Total number of demo activation requests by status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create demo activations counter: %w", err)
	}

	m.Revocations, err = meter.Int64Counter(
		"entitlement_revocations_total",
		metric.WithDescription("Total number of entitlements withdrawn by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create revocations counter: %w", err)
	}

	m.TamperDetections, err = meter.Int64Counter(
		"entitlement_tamper_detections_total",
		metric.WithDescription("Total number of stored tokens that failed integrity audit"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tamper detections counter: %w", err)
	}

	m.RemoteFailures, err = meter.Int64Counter(
		"entitlement_remote_failures_total",
		metric.WithDescription("Total number of failed license authority calls by operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote failures counter: %w", err)
	}

	m.Heartbeats, err = meter.Int64Counter(
		"entitlement_heartbeats_total",
		metric.WithDescription("Total number of heartbeats sent by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeats counter: %w", err)
	}

	m.ActiveMonitors, err = meter.Int64UpDownCounter(
		"entitlement_active_monitors",
		metric.WithDescription("Number of running revocation monitors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active monitors gauge: %w", err)
	}

	return m, nil
}

// traceOperation wraps fn in a span and records its error classification
func (e *Engine) traceOperation(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "entitlement."+op,
		trace.WithAttributes(
			attribute.String("entitlement.operation", op),
			attribute.String("component", "entitlement_engine"),
		),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	span.SetAttributes(
		attribute.Float64("entitlement.duration_ms", float64(time.Since(start).Milliseconds())),
		attribute.Bool("entitlement.success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("entitlement.error_type", apperrors.Classify(err)))
	} else {
		span.SetStatus(codes.Ok, op+" completed")
	}
	return err
}

func (e *Engine) recordCheck(ctx context.Context, state State, duration time.Duration) {
	if e.metrics == nil {
		return
	}
	labels := metric.WithAttributes(attribute.String("state", state.String()))
	e.metrics.Checks.Add(ctx, 1, labels)
	e.metrics.CheckDuration.Record(ctx, duration.Seconds(), labels)
}

func (e *Engine) recordUnlock(ctx context.Context, status string, throttled bool) {
	if e.metrics == nil {
		return
	}
	e.metrics.UnlockAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
		attribute.Bool("throttled", throttled)))
}

func (e *Engine) recordDemo(ctx context.Context, status string) {
	if e.metrics == nil {
		return
	}
	e.metrics.DemoActivations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (e *Engine) recordRevocation(ctx context.Context, reason error) {
	if e.metrics == nil {
		return
	}
	e.metrics.Revocations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", apperrors.Classify(reason))))
	if apperrors.Classify(reason) == "tampered" {
		e.metrics.TamperDetections.Add(ctx, 1)
	}
}

func (e *Engine) recordRemoteFailure(ctx context.Context, op string) {
	if e.metrics == nil {
		return
	}
	e.metrics.RemoteFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (e *Engine) recordHeartbeat(ctx context.Context, err error) {
	if e.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = apperrors.Classify(err)
	}
	e.metrics.Heartbeats.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (e *Engine) recordMonitor(ctx context.Context, delta int64) {
	if e.metrics == nil {
		return
	}
	e.metrics.ActiveMonitors.Add(ctx, delta)
}
