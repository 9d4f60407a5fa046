package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/activation"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/entitlement"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/infrastructure"
)

// EntitlementEngine is the part of entitlement.Engine the service drives
type EntitlementEngine interface {
	Snapshot() entitlement.Snapshot
	UnlockApp(ctx context.Context, code string) entitlement.Result
	ActivateDemo(ctx context.Context) entitlement.Result
	DismissExpiredMsg()
	Resume(ctx context.Context) error
	Deactivate(ctx context.Context)
	GenerateCodeForClient(deviceID string) (string, error)
}

// EntitlementService provides the UI operations on the device entitlement
type EntitlementService interface {
	Status(ctx context.Context) *EntitlementStatusResponse
	Unlock(ctx context.Context, code string) (*EntitlementResultResponse, error)
	StartDemo(ctx context.Context) (*EntitlementResultResponse, error)
	Dismiss(ctx context.Context) *EntitlementStatusResponse
	Resume(ctx context.Context) *EntitlementStatusResponse
	Deactivate(ctx context.Context) *EntitlementStatusResponse
	GenerateCode(ctx context.Context, deviceID string) (*ClientCodeResponse, error)
}

// EntitlementStatusResponse is the snapshot plus request correlation
type EntitlementStatusResponse struct {
	entitlement.Snapshot
	// Offline is set when a resume could not reach the authority
	Offline   bool      `json:"offline,omitempty"`
	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"timestamp"`
}

// EntitlementResultResponse reports an unlock or demo attempt
type EntitlementResultResponse struct {
	Success     bool                 `json:"success"`
	Status      string               `json:"status"`
	Entitlement entitlement.Snapshot `json:"entitlement"`
	TraceID     string               `json:"trace_id"`
	Timestamp   time.Time            `json:"timestamp"`
}

// ClientCodeResponse carries an activation code derived for another device
type ClientCodeResponse struct {
	DeviceID string `json:"deviceId"`
	Code     string `json:"code"`
	TraceID  string `json:"trace_id"`
}

// ResultError is a failed attempt whose status maps onto an entitlement error
type ResultError struct {
	Result entitlement.Result
	Err    error
}

func (e *ResultError) Error() string {
	return e.Result.Status + ": " + e.Err.Error()
}

func (e *ResultError) Unwrap() error {
	return e.Err
}

// resultError returns nil for outcomes that are not failures of the request
func resultError(res entitlement.Result) error {
	var err error
	switch res.Status {
	case entitlement.StatusInvalidCode:
		err = apperrors.ErrInvalidCode
	case entitlement.StatusDemoUsed:
		err = apperrors.ErrDemoAlreadyUsed
	default:
		return nil
	}
	return &ResultError{Result: res, Err: err}
}

type entitlementService struct {
	engine EntitlementEngine
	logger *slog.Logger
	now    func() time.Time
}

// NewEntitlementService creates the service over engine
func NewEntitlementService(engine EntitlementEngine, logger *slog.Logger) EntitlementService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &entitlementService{
		engine: engine,
		logger: logger.With(slog.String("service", "entitlement")),
		now:    time.Now,
	}
}

func (s *entitlementService) status(ctx context.Context) *EntitlementStatusResponse {
	return &EntitlementStatusResponse{
		Snapshot:  s.engine.Snapshot(),
		TraceID:   infrastructure.TraceIDFromContext(ctx),
		Timestamp: s.now(),
	}
}

func (s *entitlementService) result(ctx context.Context, res entitlement.Result) *EntitlementResultResponse {
	return &EntitlementResultResponse{
		Success:     res.Success,
		Status:      res.Status,
		Entitlement: s.engine.Snapshot(),
		TraceID:     infrastructure.TraceIDFromContext(ctx),
		Timestamp:   s.now(),
	}
}

func (s *entitlementService) Status(ctx context.Context) *EntitlementStatusResponse {
	return s.status(ctx)
}

func (s *entitlementService) Unlock(ctx context.Context, code string) (*EntitlementResultResponse, error) {
	res := s.engine.UnlockApp(ctx, code)
	s.logger.InfoContext(ctx, "unlock attempt finished",
		slog.String("status", res.Status),
		slog.Bool("success", res.Success),
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)))
	return s.result(ctx, res), resultError(res)
}

func (s *entitlementService) StartDemo(ctx context.Context) (*EntitlementResultResponse, error) {
	res := s.engine.ActivateDemo(ctx)
	s.logger.InfoContext(ctx, "demo request finished",
		slog.String("status", res.Status),
		slog.Bool("success", res.Success),
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)))
	return s.result(ctx, res), resultError(res)
}

func (s *entitlementService) Dismiss(ctx context.Context) *EntitlementStatusResponse {
	s.engine.DismissExpiredMsg()
	return s.status(ctx)
}

// Resume polls the authority; an unreachable authority only marks the
// response offline
func (s *entitlementService) Resume(ctx context.Context) *EntitlementStatusResponse {
	err := s.engine.Resume(ctx)
	resp := s.status(ctx)
	if err != nil {
		resp.Offline = errors.Is(err, apperrors.ErrNetworkUnavailable)
		s.logger.WarnContext(ctx, "resume poll failed",
			slog.String("error", err.Error()),
			slog.String("error_type", apperrors.Classify(err)),
			slog.String("trace_id", resp.TraceID))
	}
	return resp
}

func (s *entitlementService) Deactivate(ctx context.Context) *EntitlementStatusResponse {
	s.engine.Deactivate(ctx)
	s.logger.InfoContext(ctx, "entitlement deactivated by user",
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)))
	return s.status(ctx)
}

func (s *entitlementService) GenerateCode(ctx context.Context, deviceID string) (*ClientCodeResponse, error) {
	code, err := s.engine.GenerateCodeForClient(deviceID)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "activation code generated for client",
		slog.String("client_device", deviceID),
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)))
	return &ClientCodeResponse{
		DeviceID: activation.Normalize(deviceID),
		Code:     code,
		TraceID:  infrastructure.TraceIDFromContext(ctx),
	}, nil
}
