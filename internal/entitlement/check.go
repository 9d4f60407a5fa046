package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/activation"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/config"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/token"
)

// CheckLicense derives the entitlement from the stored token, falling back
// to the remote record when no token exists. It never fails observably; the
// worst outcome is LOCKED.
func (e *Engine) CheckLicense(ctx context.Context) State {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.Lock()
	e.suspended = false
	e.mu.Unlock()

	var state State
	e.traceOperation(ctx, "check", func(ctx context.Context) error {
		state = e.check(ctx)
		return nil
	})
	return state
}

// check is CheckLicense without locking; callers hold opMu
func (e *Engine) check(ctx context.Context) State {
	start := time.Now()
	e.setState(StateChecking, nil)

	deviceID, expected := e.identify(ctx)
	e.loadDemoFlag(ctx)

	tok, err := e.tokens.Read(ctx)
	if err != nil {
		e.logWarn(ctx, "check", "stored token unreadable, treating as absent",
			slog.String("error_type", apperrors.Classify(err)),
			slog.String("error", err.Error()))
		tok = nil
	}

	var state State
	if tok != nil {
		state = e.checkLocal(ctx, tok, expected)
	} else {
		state = e.checkRemote(ctx, deviceID, expected)
	}

	e.recordCheck(ctx, state, time.Since(start))
	e.logInfo(ctx, "check", "entitlement check completed",
		slog.String("state", state.String()),
		slog.Bool("local_token", tok != nil),
		slog.Duration("duration", time.Since(start)))
	return state
}

func (e *Engine) checkLocal(ctx context.Context, tok *token.Token, expected string) State {
	switch tok.Validate(expected, e.now(), activation.SecureCompare) {
	case token.Valid:
		if tok.TimeLimited() {
			return e.activate(ctx, StateDemoActive, tok.Expires, tok.Legacy)
		}
		return e.activate(ctx, StatePremiumActive, nil, tok.Legacy)

	case token.Expired:
		e.expire(ctx)
		e.logInfo(ctx, "check", "stored entitlement expired",
			slog.Bool("demo", tok.IsDemo),
			slog.Time("expired_at", *tok.Expires))
		return StateLocked

	default:
		e.lock(ctx)
		e.logWarn(ctx, "check", "stored token does not validate",
			slog.Bool("legacy", tok.Legacy),
			slog.String("code_masked", maskCode(tok.Code)))
		return StateLocked
	}
}

func (e *Engine) checkRemote(ctx context.Context, deviceID, expected string) State {
	rec, err := e.authority.GetLicense(ctx, deviceID, e.cfg.ProductID)
	if err != nil {
		e.remoteFailed(ctx, "get_license", err)
		e.lock(ctx)
		return StateLocked
	}
	if rec == nil || !rec.Active {
		e.lock(ctx)
		return StateLocked
	}

	now := e.now()
	if rec.Type.IsTimeLimited() && rec.ExpiresAt != nil {
		if !now.Before(*rec.ExpiresAt) {
			e.lock(ctx)
			return StateLocked
		}
		e.writeToken(ctx, token.Demo(expected, *rec.ExpiresAt))
		e.logInfo(ctx, "check", "time-limited license restored from authority",
			slog.String("type", string(rec.Type)))
		return e.activate(ctx, StateDemoActive, rec.ExpiresAt, false)
	}

	e.writeLegacy(ctx, expected)
	e.logInfo(ctx, "check", "permanent license restored from authority")
	return e.activate(ctx, StatePremiumActive, nil, false)
}

// activate enters an active state: the backup is refreshed, migration runs
// in the background and the monitor is started.
func (e *Engine) activate(ctx context.Context, state State, expires *time.Time, legacy bool) State {
	deviceID, expected := e.identify(ctx)

	e.setNotices("", "")
	e.setState(state, expires)

	if err := e.tokens.Backup(ctx, expected, deviceID); err != nil {
		e.logWarn(ctx, "backup", "failed to write session backup", slog.String("error", err.Error()))
	}

	fields := authority.LicenseFields{Type: authority.TypePermanent, Active: true}
	if state == StateDemoActive {
		fields = authority.LicenseFields{Type: e.demoType(), Active: true, ExpiresAt: expires}
	}
	e.migrate(ctx, deviceID, fields, legacy)
	e.startMonitor(ctx)
	return state
}

// lock enters LOCKED and stops the monitor
func (e *Engine) lock(ctx context.Context) {
	e.stopMonitor(ctx)
	e.setState(StateLocked, nil)
}

// revoke withdraws an active entitlement. Tampering triggers a full reload
// so a still-valid remote record can restore a clean token.
func (e *Engine) revoke(ctx context.Context, reason error) {
	e.clearToken(ctx)
	if err := e.tokens.ClearBackup(ctx); err != nil {
		e.logWarn(ctx, "revoke", "failed to clear session backup", slog.String("error", err.Error()))
	}
	e.recordRevocation(ctx, reason)

	switch {
	case errors.Is(reason, apperrors.ErrRemoteRevoked):
		e.setNotices("", config.MsgLicenseDisabled)
		e.lock(ctx)
		e.logWarn(ctx, "revoke", "license disabled by authority")
	default:
		e.lock(ctx)
		e.logWarn(ctx, "revoke", "stored entitlement failed integrity audit",
			slog.String("reason", apperrors.Classify(reason)))
		e.check(ctx)
	}
}

// expireIfDue ends an active demo once its expiry has passed
func (e *Engine) expireIfDue(ctx context.Context) bool {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.RLock()
	due := e.state == StateDemoActive && e.expires != nil && !e.now().Before(*e.expires)
	e.mu.RUnlock()
	if !due {
		return false
	}

	e.expire(ctx)
	return true
}

// expire ends a time-limited entitlement with the trial-ended notice
func (e *Engine) expire(ctx context.Context) {
	e.clearToken(ctx)
	if err := e.tokens.ClearBackup(ctx); err != nil {
		e.logWarn(ctx, "expire", "failed to clear session backup", slog.String("error", err.Error()))
	}
	e.setNotices(config.MsgTrialEnded, "")
	e.lock(ctx)
	e.logInfo(ctx, "expire", "time-limited entitlement ended")
}

func (e *Engine) demoType() authority.LicenseType {
	days := int(e.cfg.DemoDuration / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	return authority.DemoType(days)
}

func (e *Engine) writeToken(ctx context.Context, t token.Token) {
	if err := e.tokens.Write(ctx, t); err != nil {
		e.logError(ctx, "token_write", "failed to persist entitlement token", slog.String("error", err.Error()))
	}
}

func (e *Engine) writeLegacy(ctx context.Context, code string) {
	if err := e.tokens.WriteLegacy(ctx, code); err != nil {
		e.logError(ctx, "token_write", "failed to persist entitlement code", slog.String("error", err.Error()))
	}
}

func (e *Engine) clearToken(ctx context.Context) {
	if err := e.tokens.Clear(ctx); err != nil {
		e.logError(ctx, "token_clear", "failed to clear entitlement token", slog.String("error", err.Error()))
	}
}

// remoteFailed logs and counts an absorbed authority failure
func (e *Engine) remoteFailed(ctx context.Context, op string, err error) {
	e.recordRemoteFailure(ctx, op)
	e.logWarn(ctx, op, "license authority call failed",
		slog.String("error_type", apperrors.Classify(err)),
		slog.String("error", err.Error()))
}
