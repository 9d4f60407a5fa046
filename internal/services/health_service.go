package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/entitlement"
)

const healthCheckTimeout = 3 * time.Second

// Pinger is implemented by dependencies that can check their own connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// EntitlementReader is the read side of the entitlement engine
type EntitlementReader interface {
	Snapshot() entitlement.Snapshot
	MonitorRunning() bool
}

// DeviceIdentity reports whether the device ID could be persisted
type DeviceIdentity interface {
	Ephemeral() bool
}

// HealthDependencies are the components the health service checks. Authority
// and Store may be nil.
type HealthDependencies struct {
	Engine    EntitlementReader
	Identity  DeviceIdentity
	Authority interface{}
	Store     Pinger
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	deps      HealthDependencies
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewHealthService creates a health service over deps
func NewHealthService(version, buildTime string, deps HealthDependencies, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("HealthService initialized",
		slog.String("version", version),
		slog.String("build_time", buildTime),
		slog.Bool("authority_pinger", pingerOf(deps.Authority) != nil))

	return &HealthService{
		version:   version,
		buildTime: buildTime,
		deps:      deps,
		startTime: time.Now(),
		logger:    logger,
	}
}

func pingerOf(v interface{}) Pinger {
	p, _ := v.(Pinger)
	return p
}

// HealthCheck reports entitlement state, device identity mode, storage and
// authority reachability. An unreachable authority degrades but never fails
// the check since the engine works offline.
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	services := make(map[string]ServiceHealth, 3)
	var mu sync.Mutex
	set := func(name string, h ServiceHealth) {
		mu.Lock()
		services[name] = h
		mu.Unlock()
	}

	set("entitlement", hs.checkEntitlement())

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(checkCtx)
	g.Go(func() error {
		set("storage", pingComponent(gctx, hs.deps.Store, "local store"))
		return nil
	})
	g.Go(func() error {
		set("authority", pingComponent(gctx, pingerOf(hs.deps.Authority), "license authority"))
		return nil
	})
	_ = g.Wait()

	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services:  services,
	}
	for _, sh := range services {
		switch sh.Status {
		case "down":
			status.Status = "error"
		case "degraded", "unreachable":
			if status.Status == "ok" {
				status.Status = "degraded"
			}
		}
	}

	hs.logger.DebugContext(ctx, "HealthCheck: completed",
		slog.String("status", status.Status),
		slog.String("entitlement", services["entitlement"].Status),
		slog.String("authority", services["authority"].Status))

	return status
}

func (hs *HealthService) checkEntitlement() ServiceHealth {
	if hs.deps.Engine == nil {
		return ServiceHealth{Status: "down", Message: "entitlement engine not initialized",
			Details: map[string]interface{}{"state": "UNKNOWN"}}
	}

	snap := hs.deps.Engine.Snapshot()
	ephemeral := hs.deps.Identity != nil && hs.deps.Identity.Ephemeral()
	sh := ServiceHealth{
		Status: "ok",
		Details: map[string]interface{}{
			"state":            snap.State,
			"device_id":        snap.DeviceID,
			"device_ephemeral": ephemeral,
			"monitor_running":  hs.deps.Engine.MonitorRunning(),
		},
	}
	if ephemeral {
		sh.Status = "degraded"
		sh.Message = "device id could not be persisted; a new id is generated on every start"
	}
	return sh
}

func pingComponent(ctx context.Context, p Pinger, name string) ServiceHealth {
	if p == nil {
		return ServiceHealth{Status: "unknown", Message: name + " does not support health checks"}
	}
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return ServiceHealth{
			Status:  "unreachable",
			Message: fmt.Sprintf("%s: %v", name, err),
		}
	}
	return ServiceHealth{
		Status:  "ok",
		Details: map[string]interface{}{"latency_ms": time.Since(start).Milliseconds()},
	}
}

// ReadinessCheck is ready once the startup entitlement check has finished
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	sh := hs.checkEntitlement()
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services:  map[string]ServiceHealth{"entitlement": sh},
	}
	if hs.deps.Engine == nil || hs.deps.Engine.Snapshot().Loading {
		status.Status = "not_ready"
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	result := map[string]interface{}{
		"version":    hs.version,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     time.Since(hs.startTime).Seconds(),
		"start_time": hs.startTime.Format(time.RFC3339),
	}
	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	return result
}
