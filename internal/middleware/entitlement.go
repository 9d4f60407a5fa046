package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/entitlement"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/infrastructure"
)

// EntitlementHeader reports the state a gated request was served under
const EntitlementHeader = "X-Entitlement-State"

// SnapshotReader is the read side of the entitlement engine
type SnapshotReader interface {
	Snapshot() entitlement.Snapshot
}

// GateMetrics holds OpenTelemetry instruments for the entitlement gate
type GateMetrics struct {
	Decisions metric.Int64Counter
}

// NewGateMetrics creates the gate instruments on meter
func NewGateMetrics(meter metric.Meter) (*GateMetrics, error) {
	decisions, err := meter.Int64Counter(
		"entitlement_gate_decisions_total",
		metric.WithDescription("Premium route requests by gate decision"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate decisions counter: %w", err)
	}
	return &GateMetrics{Decisions: decisions}, nil
}

// EntitlementGate admits requests only while the device has premium or demo
// access. The engine snapshot is the single source of truth so there is no
// cache to invalidate.
type EntitlementGate struct {
	reader  SnapshotReader
	logger  *slog.Logger
	metrics *GateMetrics
	tracer  trace.Tracer
}

// NewEntitlementGate creates the premium gate over reader
func NewEntitlementGate(reader SnapshotReader, logger *slog.Logger) *EntitlementGate {
	return &EntitlementGate{
		reader: reader,
		logger: logger.With(slog.String("component", "entitlement_gate")),
		tracer: otel.Tracer("entitlement-gate"),
	}
}

// SetMetrics enables decision metrics
func (g *EntitlementGate) SetMetrics(m *GateMetrics) {
	g.metrics = m
}

// Handler returns the gating middleware
func (g *EntitlementGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := g.tracer.Start(r.Context(), "entitlement_gate.check",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
			),
		)
		defer span.End()
		r = r.WithContext(ctx)

		snap := g.reader.Snapshot()
		span.SetAttributes(attribute.String("entitlement.state", snap.State))

		var decision string
		switch {
		case snap.Loading:
			decision = "checking"
			w.Header().Set("Retry-After", "1")
			g.reject(w, r, snap, errors.NewProblemDetails(
				http.StatusServiceUnavailable,
				errors.TypeChecking,
				"Entitlement Check In Progress",
				"The license is still being verified. Retry shortly.",
				r.URL.Path,
			))
		case !snap.IsPremium && !snap.IsDemo:
			decision = "denied"
			g.reject(w, r, snap, errors.NewProblemDetails(
				http.StatusPaymentRequired,
				errors.TypeRequired,
				"Premium Required",
				"Activate a license or start the trial to use this feature.",
				r.URL.Path,
			).WithExtension("demo_used", snap.DemoUsed))
		default:
			decision = "allowed"
			w.Header().Set(EntitlementHeader, snap.State)
			next.ServeHTTP(w, r)
		}

		if g.metrics != nil {
			g.metrics.Decisions.Add(ctx, 1, metric.WithAttributes(
				attribute.String("decision", decision),
				attribute.String("state", snap.State),
			))
		}
	})
}

func (g *EntitlementGate) reject(w http.ResponseWriter, r *http.Request, snap entitlement.Snapshot, problem *errors.ProblemDetails) {
	ctx := r.Context()
	traceID := infrastructure.TraceIDFromContext(ctx)

	g.logger.InfoContext(ctx, "premium route rejected",
		slog.String("path", r.URL.Path),
		slog.String("state", snap.State),
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("trace_id", traceID))

	problem.WithExtension("state", snap.State).
		WithExtension("trace_id", traceID)
	if snap.Notice != "" {
		problem.WithExtension("notice", snap.Notice)
	}
	if snap.DemoExpiredMsg != "" {
		problem.WithExtension("demo_expired_msg", snap.DemoExpiredMsg)
	}
	render.Render(w, r, problem)
}
