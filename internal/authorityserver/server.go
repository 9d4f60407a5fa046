package authorityserver

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/exporter"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/infrastructure"
	ws "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/websocket"
)

// Server serves the authority API over a Repository and streams admin
// changes through a websocket Hub
type Server struct {
	repo     *Repository
	hub      *ws.Hub
	auth     *AdminAuth
	apiKey   string
	errors   *apperrors.ErrorHandler
	validate *validator.Validate
	upgrader websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time
}

// NewServer creates a Server. An empty apiKey leaves device routes open.
func NewServer(repo *Repository, hub *ws.Hub, auth *AdminAuth, apiKey string, logger *slog.Logger) *Server {
	return &Server{
		repo:     repo,
		hub:      hub,
		auth:     auth,
		apiKey:   apiKey,
		errors:   apperrors.NewErrorHandler(logger, false),
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Devices are not browsers; the API key authenticates them
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "authority_server")),
		now:    time.Now,
	}
}

// Router builds the chi router for the authority API
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(traceMiddleware)
	r.Use(s.errors.Middleware)
	r.NotFound(s.errors.NotFound)
	r.MethodNotAllowed(s.errors.MethodNotAllowed)

	r.Get("/v1/health", s.health)
	r.Post("/v1/admin/login", s.login)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Use(middleware.Timeout(15 * time.Second))

		r.Get("/v1/licenses/{deviceID}", s.getLicense)
		r.Put("/v1/licenses/{deviceID}", s.putLicense)
		r.Post("/v1/licenses/{deviceID}/touch", s.touchLicense)
		r.Post("/v1/heartbeats", s.appendHeartbeat)
		r.Get("/v1/demos/{deviceID}", s.getDemo)
		r.Put("/v1/demos/{deviceID}", s.putDemo)
	})

	r.With(s.requireAPIKey).Get("/v1/stream", s.stream)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/v1/admin/licenses", s.listLicenses)
		r.Get("/v1/admin/licenses.xlsx", s.exportLicenses(exporter.FormatXLSX))
		r.Get("/v1/admin/licenses.csv", s.exportLicenses(exporter.FormatCSV))
		r.Patch("/v1/admin/licenses/{deviceID}", s.setActive)
		r.Get("/v1/admin/licenses/{deviceID}/heartbeats", s.listHeartbeats)
	})

	return r
}

func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = infrastructure.WithTraceID(ctx, id)
		} else {
			ctx = infrastructure.EnsureTraceID(ctx)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			given := r.Header.Get(authority.APIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(given), []byte(s.apiKey)) != 1 {
				s.logger.WarnContext(r.Context(), "rejected request with invalid api key",
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr))
				s.errors.HandleError(w, r, apperrors.ErrUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			s.errors.HandleError(w, r, apperrors.ErrUnauthorized)
			return
		}
		subject, err := s.auth.Verify(token)
		if err != nil {
			s.logger.WarnContext(r.Context(), "rejected admin token", slog.String("error", err.Error()))
			s.errors.HandleError(w, r, apperrors.ErrUnauthorized)
			return
		}
		s.logger.DebugContext(r.Context(), "admin request",
			slog.String("admin", subject),
			slog.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}
