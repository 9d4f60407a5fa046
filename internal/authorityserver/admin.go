package authorityserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/exporter"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Bind implements render.Binder
func (l *loginRequest) Bind(r *http.Request) error {
	if l.Username == "" || l.Password == "" {
		return errors.New("username and password are required")
	}
	return nil
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

// Bind implements render.Binder
func (a *setActiveRequest) Bind(r *http.Request) error {
	if a.Active == nil {
		return errors.New("active is required")
	}
	return nil
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := render.Bind(r, &req); err != nil {
		s.errors.HandleError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}

	token, expires, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		s.logger.WarnContext(r.Context(), "admin login failed",
			slog.String("username", req.Username),
			slog.String("remote_addr", r.RemoteAddr))
		if errors.Is(err, errInvalidCredentials) {
			s.errors.HandleError(w, r, apperrors.ErrUnauthorized)
			return
		}
		s.errors.HandleError(w, r, err)
		return
	}

	s.logger.InfoContext(r.Context(), "admin logged in", slog.String("username", req.Username))
	render.JSON(w, r, loginResponse{Token: token, ExpiresAt: expires})
}

func (s *Server) listLicenses(w http.ResponseWriter, r *http.Request) {
	recs, err := s.repo.ListLicenses(r.Context())
	if err != nil {
		s.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, recs)
}

// setActive flips a license and notifies the device's open streams
func (s *Server) setActive(w http.ResponseWriter, r *http.Request) {
	product, ok := s.productParam(w, r)
	if !ok {
		return
	}
	var req setActiveRequest
	if err := render.Bind(r, &req); err != nil {
		s.errors.HandleError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}

	ctx := r.Context()
	deviceID := chi.URLParam(r, "deviceID")
	rec, err := s.repo.SetActive(ctx, deviceID, product, *req.Active)
	if err != nil {
		s.errors.HandleError(w, r, err)
		return
	}

	event := authority.ChangeEvent{
		DeviceID:  rec.DeviceID,
		ProductID: rec.ProductID,
		Active:    rec.Active,
		Type:      rec.Type,
		At:        s.now().UTC(),
	}
	if err := s.hub.Publish(ctx, deviceID, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish change event",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "license active flag changed",
		slog.String("device_id", deviceID),
		slog.String("product_id", product),
		slog.Bool("active", rec.Active),
		slog.Int("stream_clients", s.hub.DeviceClientCount(deviceID)))
	render.JSON(w, r, rec)
}

func (s *Server) listHeartbeats(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			s.errors.HandleError(w, r, apperrors.ErrValidation("limit", "limit must be between 1 and 1000"))
			return
		}
		limit = n
	}

	beats, err := s.repo.Heartbeats(r.Context(), chi.URLParam(r, "deviceID"), limit)
	if err != nil {
		s.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, beats)
}

// exportLicenses returns a handler that downloads every license record in
// format
func (s *Server) exportLicenses(format exporter.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := s.repo.ListLicenses(r.Context())
		if err != nil {
			s.errors.HandleError(w, r, err)
			return
		}

		filename := fmt.Sprintf("licenses-%s.%s", s.now().UTC().Format("20060102-150405"), format)
		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		if err := exporter.WriteLicenses(w, format, recs); err != nil {
			s.logger.ErrorContext(r.Context(), "license export failed",
				slog.String("format", string(format)),
				slog.String("error", err.Error()))
		}
	}
}
