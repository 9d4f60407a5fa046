package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/activation"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/config"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/infrastructure"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/storage"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/token"
)

// Identity supplies the device ID
type Identity interface {
	GetOrCreate(ctx context.Context) string
}

// Dependencies are the collaborators the engine orchestrates
type Dependencies struct {
	Identity  Identity
	Generator *activation.Generator
	Tokens    *token.Store
	// Store persists the demo usage flag
	Store     storage.KV
	Authority authority.Authority
	Logger    *slog.Logger
}

// Option customizes an Engine
type Option func(*Engine)

// WithClock replaces time.Now for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics records engine metrics
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer replaces the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithCountdownInterval sets how often an active demo checks its expiry
func WithCountdownInterval(d time.Duration) Option {
	return func(e *Engine) { e.countdown = d }
}

// Engine is the license and entitlement state machine for one device
type Engine struct {
	cfg       config.EntitlementConfig
	identity  Identity
	generator *activation.Generator
	tokens    *token.Store
	store     storage.KV
	authority authority.Authority
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	bus       evbus.Bus
	limiter   *unlockLimiter
	now       func() time.Time
	countdown time.Duration

	// opMu serializes state transitions and local store writes
	opMu  sync.Mutex
	polls singleflight.Group

	mu        sync.RWMutex
	state     State
	deviceID  string
	expected  string
	expires   *time.Time
	demoUsed  bool
	expired   string
	notice    string
	suspended bool
	closed    bool

	baseCtx       context.Context
	cancelBase    context.CancelFunc
	monitorCancel context.CancelFunc
	monitors      atomic.Int32
	tasks         sync.WaitGroup
}

// New creates an Engine. It fails only on configuration errors.
func New(cfg config.EntitlementConfig, deps Dependencies, opts ...Option) (*Engine, error) {
	if cfg.Secret == "" {
		return nil, apperrors.ErrEmptySecret
	}
	if deps.Identity == nil || deps.Tokens == nil || deps.Store == nil || deps.Authority == nil {
		return nil, fmt.Errorf("entitlement engine requires identity, token store, kv store and authority")
	}
	if deps.Generator == nil {
		deps.Generator = activation.NewGenerator()
	}
	if deps.Logger == nil {
		deps.Logger = infrastructure.GetLogger()
	}
	applyDefaults(&cfg)

	baseCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		identity:   deps.Identity,
		generator:  deps.Generator,
		tokens:     deps.Tokens,
		store:      deps.Store,
		authority:  deps.Authority,
		logger:     deps.Logger.With(slog.String("component", "entitlement_engine")),
		tracer:     otel.Tracer(TracerName),
		bus:        newBus(),
		limiter:    newUnlockLimiter(cfg.UnlockBurst, cfg.UnlockRefill),
		now:        time.Now,
		countdown:  config.DemoCountdownInterval,
		state:      StateUnverified,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func applyDefaults(cfg *config.EntitlementConfig) {
	if cfg.ProductID == "" {
		cfg.ProductID = config.DefaultProductID
	}
	if cfg.AppVersion == "" {
		cfg.AppVersion = config.AppVersion
	}
	if cfg.DemoDuration <= 0 {
		cfg.DemoDuration = config.DemoDuration
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = config.HeartbeatInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.StatusPollInterval
	}
	if cfg.AuditInterval <= 0 {
		cfg.AuditInterval = config.IntegrityAuditInterval
	}
	if cfg.UnlockBurst <= 0 {
		cfg.UnlockBurst = config.UnlockBurst
	}
	if cfg.UnlockRefill <= 0 {
		cfg.UnlockRefill = config.UnlockRefill
	}
}

// Start runs the startup check and launches the integrity auditor
func (e *Engine) Start(ctx context.Context) error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return fmt.Errorf("entitlement engine is closed")
	}

	e.CheckLicense(ctx)
	e.startAuditor()
	return nil
}

// Close cancels every background task and waits for them to return
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancelBase()
	e.tasks.Wait()
	e.bus.WaitAsync()

	e.logger.Info("entitlement engine stopped")
	return nil
}

// spawn runs fn on a tracked goroutine bound to the engine lifetime. It is a
// no-op once the engine is closed.
func (e *Engine) spawn(ctx context.Context, name string, fn func(ctx context.Context)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}

	taskCtx := infrastructure.WithTraceID(e.baseCtx, infrastructure.GetTraceID(ctx))
	e.tasks.Add(1)
	go func() {
		defer e.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("background task panicked",
					slog.String("task", name),
					slog.Any("panic", r))
			}
		}()
		fn(taskCtx)
	}()
	return true
}

// DeviceID returns the device identifier, creating it if needed
func (e *Engine) DeviceID(ctx context.Context) string {
	e.mu.RLock()
	id := e.deviceID
	e.mu.RUnlock()
	if id != "" {
		return id
	}
	return e.identity.GetOrCreate(ctx)
}

// State returns the current state
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// MonitorRunning reports whether the revocation monitor is active
func (e *Engine) MonitorRunning() bool {
	return e.monitors.Load() > 0
}

// Snapshot returns the collaborator-facing view. A demo that has run out is
// reported as locked immediately and expired in the background.
func (e *Engine) Snapshot() Snapshot {
	snap := e.snapshot()

	e.mu.RLock()
	due := e.state == StateDemoActive && e.expires != nil && !e.now().Before(*e.expires)
	e.mu.RUnlock()

	if due {
		snap.IsPremium = false
		snap.IsDemo = false
		snap.DemoTimeLeft = ""
		snap.DemoExpiredMsg = config.MsgTrialEnded
		snap.State = StateLocked.String()
		e.spawn(context.Background(), "expire_demo", func(ctx context.Context) {
			e.expireIfDue(ctx)
		})
	}
	return snap
}

func (e *Engine) snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := Snapshot{
		State:          e.state.String(),
		DeviceID:       e.deviceID,
		IsPremium:      e.state.Active(),
		IsDemo:         e.state == StateDemoActive,
		Loading:        e.state == StateUnverified || e.state == StateChecking,
		DemoUsed:       e.demoUsed,
		DemoExpiredMsg: e.expired,
		Notice:         e.notice,
	}
	if e.state == StateDemoActive && e.expires != nil {
		snap.DemoTimeLeft = formatTimeLeft(e.expires.Sub(e.now()))
	}
	return snap
}

// DismissExpiredMsg clears the trial-ended and license-disabled notices
func (e *Engine) DismissExpiredMsg() {
	e.mu.Lock()
	changed := e.expired != "" || e.notice != ""
	e.expired = ""
	e.notice = ""
	e.mu.Unlock()

	if changed {
		e.publish()
	}
}

// GenerateCodeForClient derives the activation code for another device. It
// needs no network.
func (e *Engine) GenerateCodeForClient(deviceID string) (string, error) {
	deviceID = activation.Normalize(deviceID)
	if deviceID == "" {
		return "", apperrors.ErrValidation("deviceId", "device id is required")
	}
	return e.generator.Generate(deviceID, e.cfg.Secret)
}

// identify resolves and caches the device ID and its expected code
func (e *Engine) identify(ctx context.Context) (deviceID, expected string) {
	e.mu.RLock()
	deviceID, expected = e.deviceID, e.expected
	e.mu.RUnlock()
	if deviceID != "" && expected != "" {
		return deviceID, expected
	}

	deviceID = e.identity.GetOrCreate(ctx)
	expected, err := e.generator.Generate(deviceID, e.cfg.Secret)
	if err != nil {
		// Secret was checked in New
		e.logError(ctx, "identify", "failed to derive expected code", slog.String("error", err.Error()))
	}

	e.mu.Lock()
	e.deviceID = deviceID
	e.expected = expected
	e.mu.Unlock()
	return deviceID, expected
}

// setState moves to state and publishes the change
func (e *Engine) setState(state State, expires *time.Time) {
	e.mu.Lock()
	prev := e.state
	e.state = state
	e.expires = expires
	e.mu.Unlock()

	if prev != state {
		e.logger.Info("entitlement state changed",
			slog.String("from", prev.String()),
			slog.String("to", state.String()))
	}
	e.publish()
}

func (e *Engine) setNotices(expired, notice string) {
	e.mu.Lock()
	e.expired = expired
	e.notice = notice
	e.mu.Unlock()
}
