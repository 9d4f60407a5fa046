package entitlement

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/config"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/token"
)

// ActivateDemo grants the single-use trial. The local flag is checked first
// so a device that already used it never touches the network.
func (e *Engine) ActivateDemo(ctx context.Context) Result {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	var result Result
	e.traceOperation(ctx, "demo", func(ctx context.Context) error {
		result = e.activateDemo(ctx)
		if result.Status == StatusDemoUsed {
			return apperrors.ErrDemoAlreadyUsed
		}
		return nil
	})
	e.recordDemo(ctx, result.Status)
	return result
}

func (e *Engine) activateDemo(ctx context.Context) Result {
	deviceID, expected := e.identify(ctx)

	switch e.State() {
	case StatePremiumActive:
		return Result{Success: false, Status: StatusAlreadyPremium}
	case StateDemoActive:
		return Result{Success: false, Status: StatusDemoUsed}
	}

	if e.loadDemoFlag(ctx) {
		e.logInfo(ctx, "demo", "demo already used on this device")
		return Result{Success: false, Status: StatusDemoUsed}
	}

	remote, err := e.authority.GetDemo(ctx, deviceID, e.cfg.ProductID)
	if err != nil {
		e.remoteFailed(ctx, "get_demo", err)
	} else if remote != nil {
		e.saveDemoFlag(ctx, deviceID)
		e.logInfo(ctx, "demo", "demo already used according to authority")
		return Result{Success: false, Status: StatusDemoUsed}
	}

	expires := e.now().Add(e.cfg.DemoDuration).Truncate(0)
	e.writeToken(ctx, token.Demo(expected, expires))
	e.saveDemoFlag(ctx, deviceID)

	e.mu.Lock()
	e.suspended = false
	e.mu.Unlock()

	e.activate(ctx, StateDemoActive, &expires, false)

	demo := authority.DemoRecord{
		DeviceID:   deviceID,
		ProductID:  e.cfg.ProductID,
		ExpiresAt:  expires,
		AppVersion: e.cfg.AppVersion,
	}
	e.spawn(ctx, "upsert_demo", func(ctx context.Context) {
		if err := e.authority.UpsertDemo(ctx, demo); err != nil {
			e.remoteFailed(ctx, "upsert_demo", err)
		}
	})

	e.logInfo(ctx, "demo", "demo activated", slog.Time("expires_at", expires))
	return Result{Success: true, Status: StatusDemoActivated}
}

// loadDemoFlag reads the local flag into memory and reports whether it is set
func (e *Engine) loadDemoFlag(ctx context.Context) bool {
	e.mu.RLock()
	used := e.demoUsed
	e.mu.RUnlock()
	if used {
		return true
	}

	raw, found, err := e.store.Get(ctx, config.KeyDemoUsage)
	if err != nil {
		e.logWarn(ctx, "demo_flag", "failed to read demo flag", slog.String("error", err.Error()))
		return false
	}
	if !found {
		return false
	}

	var flag demoFlag
	if err := json.Unmarshal([]byte(raw), &flag); err != nil {
		e.logWarn(ctx, "demo_flag", "demo flag unreadable", slog.String("error", err.Error()))
		return false
	}

	e.mu.Lock()
	e.demoUsed = flag.Used
	e.mu.Unlock()
	return flag.Used
}

// saveDemoFlag marks the demo as used. The in-memory flag is set even if
// persisting fails, and never reverts for the life of the engine.
func (e *Engine) saveDemoFlag(ctx context.Context, deviceID string) {
	e.mu.Lock()
	e.demoUsed = true
	e.mu.Unlock()

	data, _ := json.Marshal(demoFlag{Used: true, Timestamp: e.now().UnixMilli(), DeviceID: deviceID})
	if err := e.store.Set(ctx, config.KeyDemoUsage, string(data)); err != nil {
		e.logError(ctx, "demo_flag", "failed to persist demo flag", slog.String("error", err.Error()))
	}
	e.publish()
}
