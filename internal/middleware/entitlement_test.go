package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/entitlement"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
)

type stubReader struct {
	snap entitlement.Snapshot
}

func (s *stubReader) Snapshot() entitlement.Snapshot {
	return s.snap
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEntitlementGate(t *testing.T) {
	tests := []struct {
		name       string
		snap       entitlement.Snapshot
		wantStatus int
		wantType   string
		wantNext   bool
	}{
		{
			name:       "checking",
			snap:       entitlement.Snapshot{State: "CHECKING", Loading: true},
			wantStatus: http.StatusServiceUnavailable,
			wantType:   errors.TypeChecking,
		},
		{
			name:       "locked",
			snap:       entitlement.Snapshot{State: "LOCKED", DemoUsed: true, DemoExpiredMsg: "trial over"},
			wantStatus: http.StatusPaymentRequired,
			wantType:   errors.TypeRequired,
		},
		{
			name:       "demo",
			snap:       entitlement.Snapshot{State: "DEMO_ACTIVE", IsDemo: true},
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "premium",
			snap:       entitlement.Snapshot{State: "PREMIUM_ACTIVE", IsPremium: true},
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewEntitlementGate(&stubReader{snap: tt.snap}, quietLogger())

			nextCalled := false
			handler := gate.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/premium/reports", nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantNext, nextCalled)

			if tt.wantNext {
				assert.Equal(t, tt.snap.State, rec.Header().Get(EntitlementHeader))
				return
			}

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, tt.snap.State, body["state"])
			assert.Equal(t, "/api/premium/reports", body["instance"])
		})
	}
}

func TestEntitlementGateLockedExtensions(t *testing.T) {
	snap := entitlement.Snapshot{
		State:          "LOCKED",
		DemoUsed:       true,
		DemoExpiredMsg: "Your free trial has ended",
		Notice:         "License disabled",
	}
	gate := NewEntitlementGate(&stubReader{snap: snap}, quietLogger())
	handler := gate.Handler(http.NotFoundHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/premium/export", nil))

	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["demo_used"])
	assert.Equal(t, "Your free trial has ended", body["demo_expired_msg"])
	assert.Equal(t, "License disabled", body["notice"])
}

func TestEntitlementGateRetryAfterWhileChecking(t *testing.T) {
	gate := NewEntitlementGate(&stubReader{snap: entitlement.Snapshot{State: "CHECKING", Loading: true}}, quietLogger())
	handler := gate.Handler(http.NotFoundHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/premium", nil))

	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Empty(t, rec.Header().Get(EntitlementHeader))
}

func TestEntitlementGateMetrics(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	defer provider.Shutdown(context.Background())

	metrics, err := NewGateMetrics(provider.Meter("test"))
	require.NoError(t, err)
	require.NotNil(t, metrics.Decisions)

	gate := NewEntitlementGate(&stubReader{snap: entitlement.Snapshot{State: "PREMIUM_ACTIVE", IsPremium: true}}, quietLogger())
	gate.SetMetrics(metrics)

	rec := httptest.NewRecorder()
	gate.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/premium", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
}
