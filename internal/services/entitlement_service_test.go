package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/entitlement"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/infrastructure"
)

// MockEngine implements EntitlementEngine and EntitlementReader
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Snapshot() entitlement.Snapshot {
	return m.Called().Get(0).(entitlement.Snapshot)
}

func (m *MockEngine) MonitorRunning() bool {
	return m.Called().Bool(0)
}

func (m *MockEngine) UnlockApp(ctx context.Context, code string) entitlement.Result {
	return m.Called(ctx, code).Get(0).(entitlement.Result)
}

func (m *MockEngine) ActivateDemo(ctx context.Context) entitlement.Result {
	return m.Called(ctx).Get(0).(entitlement.Result)
}

func (m *MockEngine) DismissExpiredMsg() {
	m.Called()
}

func (m *MockEngine) Resume(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEngine) Deactivate(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockEngine) GenerateCodeForClient(deviceID string) (string, error) {
	args := m.Called(deviceID)
	return args.String(0), args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

var premiumSnapshot = entitlement.Snapshot{
	State:     entitlement.StatePremiumActive.String(),
	DeviceID:  "PDA-7Q2K",
	IsPremium: true,
}

func TestEntitlementServiceUnlock(t *testing.T) {
	tests := []struct {
		name    string
		result  entitlement.Result
		wantErr error
	}{
		{"activated", entitlement.Result{Success: true, Status: entitlement.StatusPremiumActivated}, nil},
		{"invalid code", entitlement.Result{Status: entitlement.StatusInvalidCode}, apperrors.ErrInvalidCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := new(MockEngine)
			engine.On("UnlockApp", mock.Anything, "ACTIV-0000-0000").Return(tt.result)
			engine.On("Snapshot").Return(premiumSnapshot)

			svc := NewEntitlementService(engine, discardLogger())
			ctx := infrastructure.WithTraceID(context.Background(), "trace-1")

			resp, err := svc.Unlock(ctx, "ACTIV-0000-0000")
			require.NotNil(t, resp)
			assert.Equal(t, tt.result.Success, resp.Success)
			assert.Equal(t, tt.result.Status, resp.Status)
			assert.Equal(t, "trace-1", resp.TraceID)

			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
				var resErr *ResultError
				require.True(t, errors.As(err, &resErr))
				assert.Equal(t, tt.result.Status, resErr.Result.Status)
			}
			engine.AssertExpectations(t)
		})
	}
}

func TestEntitlementServiceStartDemo(t *testing.T) {
	engine := new(MockEngine)
	engine.On("ActivateDemo", mock.Anything).Return(entitlement.Result{Status: entitlement.StatusDemoUsed}).Once()
	engine.On("ActivateDemo", mock.Anything).Return(entitlement.Result{Status: entitlement.StatusAlreadyPremium}).Once()
	engine.On("Snapshot").Return(premiumSnapshot)

	svc := NewEntitlementService(engine, discardLogger())

	_, err := svc.StartDemo(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrDemoAlreadyUsed)

	resp, err := svc.StartDemo(context.Background())
	assert.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, entitlement.StatusAlreadyPremium, resp.Status)
	assert.True(t, resp.Entitlement.IsPremium)
}

func TestEntitlementServiceResume(t *testing.T) {
	t.Run("offline", func(t *testing.T) {
		engine := new(MockEngine)
		engine.On("Resume", mock.Anything).Return(apperrors.NewNetworkError("poll", io.EOF))
		engine.On("Snapshot").Return(premiumSnapshot)

		resp := NewEntitlementService(engine, discardLogger()).Resume(context.Background())
		assert.True(t, resp.Offline)
		assert.True(t, resp.IsPremium)
	})

	t.Run("online", func(t *testing.T) {
		engine := new(MockEngine)
		engine.On("Resume", mock.Anything).Return(nil)
		engine.On("Snapshot").Return(entitlement.Snapshot{State: "LOCKED"})

		resp := NewEntitlementService(engine, discardLogger()).Resume(context.Background())
		assert.False(t, resp.Offline)
		assert.Equal(t, "LOCKED", resp.State)
	})
}

func TestEntitlementServiceDismissAndDeactivate(t *testing.T) {
	engine := new(MockEngine)
	engine.On("DismissExpiredMsg").Return()
	engine.On("Deactivate", mock.Anything).Return()
	engine.On("Snapshot").Return(entitlement.Snapshot{State: "LOCKED"})

	svc := NewEntitlementService(engine, discardLogger())
	assert.Equal(t, "LOCKED", svc.Dismiss(context.Background()).State)
	assert.Equal(t, "LOCKED", svc.Deactivate(context.Background()).State)
	engine.AssertNumberOfCalls(t, "DismissExpiredMsg", 1)
	engine.AssertNumberOfCalls(t, "Deactivate", 1)
}

func TestEntitlementServiceGenerateCode(t *testing.T) {
	engine := new(MockEngine)
	engine.On("GenerateCodeForClient", " pda-7q2k ").Return("ACTIV-1234-ABCD", nil)
	engine.On("GenerateCodeForClient", "").Return("", apperrors.ErrValidation("deviceId", "device id is required"))

	svc := NewEntitlementService(engine, discardLogger())

	resp, err := svc.GenerateCode(context.Background(), " pda-7q2k ")
	require.NoError(t, err)
	assert.Equal(t, "PDA-7Q2K", resp.DeviceID)
	assert.Equal(t, "ACTIV-1234-ABCD", resp.Code)

	_, err = svc.GenerateCode(context.Background(), "")
	var apiErr *apperrors.APIError
	assert.True(t, errors.As(err, &apiErr), fmt.Sprintf("unexpected error %v", err))
}
