package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/infrastructure"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/services"
)

// EntitlementHandler serves the UI entitlement API
type EntitlementHandler struct {
	service services.EntitlementService
	errors  *apperrors.ErrorHandler
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewEntitlementHandler creates a new entitlement handler
func NewEntitlementHandler(service services.EntitlementService, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		service: service,
		errors:  errorHandler,
		logger:  logger.With(slog.String("handler", "entitlement")),
		tracer:  otel.Tracer("entitlement-handler"),
	}
}

// UnlockRequest is the activation code entered by the user
type UnlockRequest struct {
	Code string `json:"code"`
}

// Bind implements the render.Binder interface
func (u *UnlockRequest) Bind(r *http.Request) error {
	if strings.TrimSpace(u.Code) == "" {
		return apperrors.ErrValidation("code", "code is required")
	}
	return nil
}

// Routes returns a chi router for the entitlement endpoints. The codes
// endpoint is wrapped by operator when it is non-nil.
func (h *EntitlementHandler) Routes(operator func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", h.GetStatus)
	r.Post("/unlock", h.Unlock)
	r.Post("/demo", h.StartDemo)
	r.Post("/dismiss", h.Dismiss)
	r.Post("/resume", h.Resume)
	r.Post("/deactivate", h.Deactivate)

	if operator != nil {
		r.With(operator).Get("/codes/{deviceID}", h.GenerateCode)
	} else {
		r.Get("/codes/{deviceID}", h.GenerateCode)
	}

	return r
}

func (h *EntitlementHandler) start(r *http.Request, operation string) (*http.Request, trace.Span) {
	ctx, span := h.tracer.Start(r.Context(), "entitlement_handler."+operation,
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
			attribute.String("operation", operation),
		),
	)
	return r.WithContext(ctx), span
}

// GetStatus handles GET /api/entitlement
func (h *EntitlementHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	r, span := h.start(r, "get_status")
	defer span.End()

	resp := h.service.Status(r.Context())
	span.SetAttributes(attribute.String("entitlement.state", resp.State))
	render.JSON(w, r, resp)
}

// Unlock handles POST /api/entitlement/unlock
func (h *EntitlementHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	r, span := h.start(r, "unlock")
	defer span.End()
	ctx := r.Context()

	data := &UnlockRequest{}
	if err := render.Bind(r, data); err != nil {
		span.RecordError(err)
		var apiErr *apperrors.APIError
		if !errors.As(err, &apiErr) {
			err = apperrors.InvalidRequestWithError(err)
		}
		h.errors.HandleError(w, r, err)
		return
	}

	resp, err := h.service.Unlock(ctx, data.Code)
	span.SetAttributes(
		attribute.String("entitlement.status", resp.Status),
		attribute.Bool("entitlement.success", resp.Success),
	)
	if err != nil {
		h.failed(w, r, resp, err)
		return
	}

	h.logger.InfoContext(ctx, "unlock request completed",
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)),
		slog.String("status", resp.Status))
	render.JSON(w, r, resp)
}

// StartDemo handles POST /api/entitlement/demo
func (h *EntitlementHandler) StartDemo(w http.ResponseWriter, r *http.Request) {
	r, span := h.start(r, "demo")
	defer span.End()

	resp, err := h.service.StartDemo(r.Context())
	span.SetAttributes(attribute.String("entitlement.status", resp.Status))
	if err != nil {
		h.failed(w, r, resp, err)
		return
	}
	render.JSON(w, r, resp)
}

// failed renders a rejected attempt as a problem carrying the result status
// and the unchanged entitlement
func (h *EntitlementHandler) failed(w http.ResponseWriter, r *http.Request, resp *services.EntitlementResultResponse, err error) {
	ctx := r.Context()
	infrastructure.RecordError(ctx, err)

	h.logger.WarnContext(ctx, "entitlement attempt rejected",
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)),
		slog.String("status", resp.Status),
		slog.String("error_type", apperrors.Classify(err)))

	problem := h.errors.ErrorToProblem(err, r).
		WithExtension("status_code", resp.Status).
		WithExtension("entitlement", resp.Entitlement).
		WithExtension("trace_id", resp.TraceID)
	render.Render(w, r, problem)
}

// Dismiss handles POST /api/entitlement/dismiss
func (h *EntitlementHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.Dismiss(r.Context()))
}

// Resume handles POST /api/entitlement/resume, sent when the app regains
// focus
func (h *EntitlementHandler) Resume(w http.ResponseWriter, r *http.Request) {
	r, span := h.start(r, "resume")
	defer span.End()

	resp := h.service.Resume(r.Context())
	span.SetAttributes(attribute.Bool("authority.offline", resp.Offline))
	render.JSON(w, r, resp)
}

// Deactivate handles POST /api/entitlement/deactivate
func (h *EntitlementHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	r, span := h.start(r, "deactivate")
	defer span.End()

	render.JSON(w, r, h.service.Deactivate(r.Context()))
}

// GenerateCode handles GET /api/entitlement/codes/{deviceID}
func (h *EntitlementHandler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	r, span := h.start(r, "generate_code")
	defer span.End()

	resp, err := h.service.GenerateCode(r.Context(), chi.URLParam(r, "deviceID"))
	if err != nil {
		span.RecordError(err)
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}
