package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/activation"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/config"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/device"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/entitlement"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/infrastructure"
	customMiddleware "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/middleware"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/services"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/storage"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/token"
	handlers "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/transport/http"
)

// BuildTime is set at compile time
var BuildTime = time.Now().Format(time.RFC3339)

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Router        *chi.Mux
	Server        *http.Server

	Store     *storage.SQLiteStore
	Session   *storage.SessionStore
	Identity  *device.Identity
	Authority authority.Authority
	Engine    *entitlement.Engine
	Health    *services.HealthService

	// Premium is where feature routes that require an active entitlement
	// are registered. It is mounted at /api/premium behind the entitlement
	// gate.
	Premium chi.Router

	errorHandler *errors.ErrorHandler
}

// NewApplication loads configuration and builds the application
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return NewApplicationWithConfig(cfg, logger)
}

// NewApplicationWithConfig builds the application from an already loaded
// configuration
func NewApplicationWithConfig(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("authority_backend", cfg.Authority.Backend))

	otelProviders, err := infrastructure.InitializeOTel(
		infrastructure.NewOTelConfig(infrastructure.ServiceName, config.AppVersion, cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		errorHandler:  errors.NewErrorHandler(logger, false),
	}

	if err := a.initializeServices(); err != nil {
		a.closeResources(context.Background())
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.createServer()

	return a, nil
}

// initializeServices wires the entitlement engine and its collaborators
func (a *Application) initializeServices() error {
	ctx := context.Background()

	if err := config.EnsureParent(a.Config.Storage.DatabasePath); err != nil {
		return fmt.Errorf("failed to prepare database directory: %w", err)
	}
	store, err := storage.OpenSQLite(a.Config.Storage.DatabasePath, a.Logger)
	if err != nil {
		return err
	}
	a.Store = store
	a.Session = storage.NewSessionStore(0)

	a.Identity = device.NewIdentity(store, a.Config.Entitlement.DevicePrefix, a.Logger)

	auth, err := authority.New(ctx, a.Config.Authority, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize license authority: %w", err)
	}
	a.Authority = auth

	metrics, err := entitlement.InitializeMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize entitlement metrics: %w", err)
	}

	engine, err := entitlement.New(a.Config.Entitlement, entitlement.Dependencies{
		Identity:  a.Identity,
		Generator: activation.NewGenerator(),
		Tokens:    token.NewStore(store, a.Session, token.NewCodec(), a.Logger),
		Store:     store,
		Authority: auth,
		Logger:    a.Logger,
	},
		entitlement.WithMetrics(metrics),
		entitlement.WithTracer(a.OTelProviders.Tracer),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize entitlement engine: %w", err)
	}
	a.Engine = engine

	a.Health = services.NewHealthService(config.AppVersion, BuildTime, services.HealthDependencies{
		Engine:    engine,
		Identity:  a.Identity,
		Authority: auth,
		Store:     store,
	}, a.Logger)

	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	if httpMetrics, err := infrastructure.CreateHTTPMetrics(a.OTelProviders.Meter); err != nil {
		a.Logger.Error("Failed to create HTTP metrics", slog.String("error", err.Error()))
	} else {
		r.Use(httpMetrics.Middleware)
	}

	r.Use(a.errorHandler.Middleware)

	secure := customMiddleware.DefaultSecureHeaders()
	secure.DevMode = a.Config.Server.DevMode
	r.Use(secure.Handler)

	r.NotFound(a.errorHandler.NotFound)
	r.MethodNotAllowed(a.errorHandler.MethodNotAllowed)

	a.setupAPIRoutes(r)

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle(config.MetricsEndpoint, a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		healthHandler := handlers.NewHealthHandler(a.Health, a.Logger)
		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/ready", healthHandler.ReadinessCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Get("/version", healthHandler.Version)

		entitlementHandler := handlers.NewEntitlementHandler(
			services.NewEntitlementService(a.Engine, a.Logger), a.errorHandler, a.Logger)
		operator := customMiddleware.OperatorAuth(a.Config.Server.OperatorAPIKey, a.errorHandler, a.Logger)
		r.Mount("/entitlement", entitlementHandler.Routes(operator))

		r.Post("/logs", handlers.NewClientLogHandler(a.errorHandler, a.Logger).Handle)

		gate := customMiddleware.NewEntitlementGate(a.Engine, a.Logger)
		if gateMetrics, err := customMiddleware.NewGateMetrics(a.OTelProviders.Meter); err != nil {
			a.Logger.Error("Failed to create gate metrics", slog.String("error", err.Error()))
		} else {
			gate.SetMetrics(gateMetrics)
		}

		premium := chi.NewRouter()
		premium.Use(gate.Handler)
		premium.NotFound(a.errorHandler.NotFound)
		premium.Get("/", func(w http.ResponseWriter, r *http.Request) {
			render.JSON(w, r, a.Engine.Snapshot())
		})
		r.Mount("/premium", premium)
		a.Premium = premium
	})
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start runs the startup entitlement check and begins serving
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	if err := a.Engine.Start(infrastructure.EnsureTraceID(ctx)); err != nil {
		return fmt.Errorf("failed to start entitlement engine: %w", err)
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	snap := a.Engine.Snapshot()
	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)),
		slog.String("entitlement_state", snap.State),
		slog.String("device_id", snap.DeviceID))
	return nil
}

// Stop gracefully stops the application. Shutdown order is server, engine,
// stores, telemetry.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var serverErr error
	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			serverErr = fmt.Errorf("server shutdown error: %w", err)
		}
	}

	a.closeResources(shutdownCtx)

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return serverErr
}

func (a *Application) closeResources(ctx context.Context) {
	if a.Engine != nil {
		if err := a.Engine.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error stopping entitlement engine", slog.String("error", err.Error()))
		}
	}

	if a.Session != nil {
		a.Session.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing store", slog.String("error", err.Error()))
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := a.Start(ctx, cancel); err != nil {
		a.closeResources(ctx)
		return err
	}

	select {
	case sig := <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		a.Logger.WarnContext(ctx, "Server stopped unexpectedly")
	}

	return a.Stop(context.Background())
}
