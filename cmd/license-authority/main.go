// Command license-authority runs the reference license authority service
// that POS installations check their entitlement against.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authorityserver"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/config"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/infrastructure"
	ws "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/websocket"
)

func main() {
	hashPassword := flag.String("hash-password", "", "print the bcrypt hash for a new admin password and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := authorityserver.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	if err := run(); err != nil {
		slog.Error("License authority error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadAuthorityServer()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	providers, err := infrastructure.InitializeOTel(
		infrastructure.NewOTelConfig("license-authority", config.AppVersion, cfg.Telemetry), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	srvCfg := cfg.AuthorityServer
	if err := config.EnsureParent(srvCfg.DatabasePath); err != nil {
		return err
	}
	repo, err := authorityserver.OpenRepository(srvCfg.DatabasePath, logger)
	if err != nil {
		return err
	}

	auth, err := authorityserver.NewAdminAuth(srvCfg.AdminUser, srvCfg.AdminPasswordHash, srvCfg.JWTSecret, srvCfg.TokenTTL)
	if err != nil {
		repo.Close()
		return fmt.Errorf("failed to initialize admin auth: %w", err)
	}
	if srvCfg.AdminPasswordHash == "" {
		logger.Warn("Admin password hash not set, admin login is disabled")
	}
	if srvCfg.APIKey == "" {
		logger.Warn("API key not set, device routes are open")
	}

	hubMetrics, err := ws.NewMetrics(providers.Meter)
	if err != nil {
		logger.Error("Failed to create stream metrics", slog.String("error", err.Error()))
		hubMetrics = nil
	}
	hub := ws.NewHub(logger, hubMetrics)
	hub.Start()

	router := authorityserver.NewServer(repo, hub, auth, srvCfg.APIKey, logger).Router()
	if providers.PrometheusHTTP != nil {
		router.Handle(config.MetricsEndpoint, providers.PrometheusHTTP)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", srvCfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Info("License authority listening",
			slog.Int("port", srvCfg.Port),
			slog.String("database", srvCfg.DatabasePath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("Received interrupt signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	if err := server.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("server shutdown error: %w", err)
	}
	hub.Stop()
	if err := repo.Close(); err != nil {
		logger.Error("Error closing repository", slog.String("error", err.Error()))
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down OpenTelemetry", slog.String("error", err.Error()))
	}

	logger.Info("License authority stopped")
	return shutdownErr
}
