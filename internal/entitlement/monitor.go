package entitlement

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/infrastructure"
)

// startMonitor launches heartbeat, polling, push and demo countdown tasks.
// Callers hold opMu.
func (e *Engine) startMonitor(ctx context.Context) {
	e.mu.Lock()
	if e.monitorCancel != nil || e.closed {
		e.mu.Unlock()
		return
	}
	monCtx, cancel := context.WithCancel(e.baseCtx)
	e.monitorCancel = cancel
	deviceID := e.deviceID
	e.mu.Unlock()

	e.monitors.Add(1)
	e.recordMonitor(ctx, 1)
	started := e.spawn(ctx, "monitor", func(taskCtx context.Context) {
		defer func() {
			e.monitors.Add(-1)
			e.recordMonitor(context.Background(), -1)
		}()

		g, gctx := errgroup.WithContext(monCtx)
		g.Go(func() error { return e.heartbeatLoop(gctx) })
		g.Go(func() error { return e.pollLoop(gctx) })
		g.Go(func() error { return e.pushLoop(gctx, deviceID) })
		g.Go(func() error { return e.countdownLoop(gctx) })
		g.Wait()

		e.logDebug(taskCtx, "monitor", "revocation monitor stopped")
	})
	if !started {
		e.monitors.Add(-1)
		e.recordMonitor(ctx, -1)
		cancel()
		return
	}
	e.logDebug(ctx, "monitor", "revocation monitor started")
}

// stopMonitor cancels the monitor without waiting, so it is safe to call
// from a monitor task. Close joins the goroutines.
func (e *Engine) stopMonitor(ctx context.Context) {
	e.mu.Lock()
	cancel := e.monitorCancel
	e.monitorCancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (e *Engine) heartbeatLoop(ctx context.Context) error {
	e.Heartbeat(ctx)

	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Heartbeat(ctx)
		}
	}
}

func (e *Engine) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.PollStatus(ctx)
		}
	}
}

// pushLoop turns change events into immediate polls. Without a stream the
// poll loop alone keeps the state correct.
func (e *Engine) pushLoop(ctx context.Context, deviceID string) error {
	events, err := e.authority.Subscribe(ctx, deviceID)
	if err != nil {
		e.remoteFailed(ctx, "subscribe", err)
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.logDebug(ctx, "push", "license change notified", slog.Bool("active", ev.Active))
			e.PollStatus(ctx)
		}
	}
}

func (e *Engine) countdownLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.countdown)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.expireIfDue(ctx)
			e.publish()
		}
	}
}

// Heartbeat reports liveness to the authority. Failures are logged only.
func (e *Engine) Heartbeat(ctx context.Context) {
	e.mu.RLock()
	deviceID := e.deviceID
	e.mu.RUnlock()
	if deviceID == "" {
		return
	}

	now := e.now()
	err := e.authority.TouchLastSeen(ctx, deviceID, e.cfg.ProductID, now)
	if err == nil {
		err = e.authority.AppendHeartbeat(ctx, authority.Heartbeat{
			DeviceID:   deviceID,
			ProductID:  e.cfg.ProductID,
			AppVersion: e.cfg.AppVersion,
			At:         now,
		})
	}
	e.recordHeartbeat(ctx, err)
	if err != nil && ctx.Err() == nil {
		e.remoteFailed(ctx, "heartbeat", err)
	}
}

// PollStatus reconciles local state with the remote active flag. Concurrent
// callers share one in-flight poll, which runs on the engine's context so a
// caller that gives up does not fail the others. Network errors are returned
// for logging but never change state.
func (e *Engine) PollStatus(ctx context.Context) error {
	pollCtx := infrastructure.WithTraceID(e.baseCtx, infrastructure.GetTraceID(ctx))
	ch := e.polls.DoChan("status", func() (interface{}, error) {
		return nil, e.pollStatus(pollCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) pollStatus(ctx context.Context) error {
	e.mu.RLock()
	deviceID := e.deviceID
	e.mu.RUnlock()
	if deviceID == "" {
		return nil
	}

	rec, err := e.authority.GetLicense(ctx, deviceID, e.cfg.ProductID)
	if err != nil {
		if ctx.Err() == nil {
			e.remoteFailed(ctx, "poll", err)
		}
		return err
	}
	if rec == nil {
		return nil
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.RLock()
	state, suspended := e.state, e.suspended
	e.mu.RUnlock()

	switch {
	case !rec.Active && state.Active():
		e.revoke(ctx, apperrors.ErrRemoteRevoked)
	case rec.Active && state == StateLocked && !suspended:
		e.logInfo(ctx, "poll", "authority reports active license while locked, re-checking")
		e.check(ctx)
	}
	return nil
}

// Resume is called when the app regains focus: it polls immediately and
// expires a demo that ran out while in the background.
func (e *Engine) Resume(ctx context.Context) error {
	e.expireIfDue(ctx)
	return e.PollStatus(ctx)
}

// Deactivate is an explicit logout. It clears the token and stops background
// remote checks until the next unlock, demo or check.
func (e *Engine) Deactivate(ctx context.Context) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.clearToken(ctx)
	if err := e.tokens.ClearBackup(ctx); err != nil {
		e.logWarn(ctx, "deactivate", "failed to clear session backup", slog.String("error", err.Error()))
	}

	e.mu.Lock()
	e.suspended = true
	e.mu.Unlock()

	e.lock(ctx)
	e.logInfo(ctx, "deactivate", "entitlement deactivated")
}
