package authorityserver

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/infrastructure"
	ws "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/websocket"
)

// licenseRequest is the PUT /v1/licenses body
type licenseRequest struct {
	authority.LicenseFields
}

// Bind implements render.Binder
func (l *licenseRequest) Bind(r *http.Request) error {
	if l.Type != authority.TypePermanent && !l.Type.IsTimeLimited() {
		return errors.New("type must be permanent or demoN")
	}
	if l.Type.IsTimeLimited() && l.ExpiresAt == nil {
		return errors.New("expiresAt is required for time-limited licenses")
	}
	return nil
}

type touchRequest struct {
	At time.Time `json:"at"`
}

// Bind implements render.Binder
func (t *touchRequest) Bind(r *http.Request) error {
	if t.At.IsZero() {
		t.At = time.Now()
	}
	return nil
}

type heartbeatRequest struct {
	authority.Heartbeat
}

// Bind implements render.Binder
func (h *heartbeatRequest) Bind(r *http.Request) error {
	if h.At.IsZero() {
		h.At = time.Now()
	}
	return nil
}

type demoRequest struct {
	ExpiresAt  time.Time `json:"expiresAt"`
	AppVersion string    `json:"appVersion"`
}

// Bind implements render.Binder
func (d *demoRequest) Bind(r *http.Request) error {
	if d.ExpiresAt.IsZero() {
		return errors.New("expiresAt is required")
	}
	return nil
}

// productParam returns the ?product= query value, writing a 400 when absent
func (s *Server) productParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	product := r.URL.Query().Get("product")
	if product == "" {
		s.errors.HandleError(w, r, apperrors.ErrValidation("product", "product query parameter is required"))
		return "", false
	}
	return product, true
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{
		"status":         "healthy",
		"stream_clients": s.hub.ClientCount(),
		"timestamp":      s.now().UTC(),
	}
	if err := s.repo.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unhealthy"
		body["error"] = err.Error()
	}
	render.Status(r, status)
	render.JSON(w, r, body)
}

func (s *Server) getLicense(w http.ResponseWriter, r *http.Request) {
	product, ok := s.productParam(w, r)
	if !ok {
		return
	}
	rec, err := s.repo.GetLicense(r.Context(), chi.URLParam(r, "deviceID"), product)
	if err != nil {
		s.errors.HandleError(w, r, err)
		return
	}
	if rec == nil {
		s.errors.HandleError(w, r, apperrors.ErrRecordNotFound)
		return
	}
	render.JSON(w, r, rec)
}

func (s *Server) putLicense(w http.ResponseWriter, r *http.Request) {
	product, ok := s.productParam(w, r)
	if !ok {
		return
	}
	var req licenseRequest
	if err := render.Bind(r, &req); err != nil {
		s.errors.HandleError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}

	deviceID := chi.URLParam(r, "deviceID")
	if err := s.repo.UpsertLicense(r.Context(), deviceID, product, req.LicenseFields); err != nil {
		s.errors.HandleError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "license upserted",
		slog.String("device_id", deviceID),
		slog.String("product_id", product),
		slog.String("type", string(req.Type)),
		slog.Bool("active", req.Active))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) touchLicense(w http.ResponseWriter, r *http.Request) {
	product, ok := s.productParam(w, r)
	if !ok {
		return
	}
	var req touchRequest
	if err := render.Bind(r, &req); err != nil {
		s.errors.HandleError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	if err := s.repo.TouchLastSeen(r.Context(), chi.URLParam(r, "deviceID"), product, req.At); err != nil {
		s.errors.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) appendHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := render.Bind(r, &req); err != nil {
		s.errors.HandleError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	if err := s.validate.Struct(req.Heartbeat); err != nil {
		s.errors.HandleError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	if err := s.repo.AppendHeartbeat(r.Context(), req.Heartbeat); err != nil {
		s.errors.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getDemo(w http.ResponseWriter, r *http.Request) {
	product, ok := s.productParam(w, r)
	if !ok {
		return
	}
	demo, err := s.repo.GetDemo(r.Context(), chi.URLParam(r, "deviceID"), product)
	if err != nil {
		s.errors.HandleError(w, r, err)
		return
	}
	if demo == nil {
		s.errors.HandleError(w, r, apperrors.ErrRecordNotFound)
		return
	}
	render.JSON(w, r, demo)
}

func (s *Server) putDemo(w http.ResponseWriter, r *http.Request) {
	product, ok := s.productParam(w, r)
	if !ok {
		return
	}
	var req demoRequest
	if err := render.Bind(r, &req); err != nil {
		s.errors.HandleError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}

	deviceID := chi.URLParam(r, "deviceID")
	err := s.repo.UpsertDemo(r.Context(), authority.DemoRecord{
		DeviceID:   deviceID,
		ProductID:  product,
		ExpiresAt:  req.ExpiresAt,
		AppVersion: req.AppVersion,
	})
	if err != nil {
		s.errors.HandleError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "demo registered",
		slog.String("device_id", deviceID),
		slog.Time("expires_at", req.ExpiresAt))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device")
	if deviceID == "" {
		s.errors.HandleError(w, r, apperrors.ErrValidation("device", "device query parameter is required"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	ws.ServeWS(s.hub, conn, deviceID, infrastructure.GetTraceID(r.Context()), s.logger)
}
