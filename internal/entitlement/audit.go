package entitlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/activation"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/token"
)

// AuditResult describes what an integrity audit found
type AuditResult string

const (
	AuditSkipped  AuditResult = "skipped"
	AuditOK       AuditResult = "ok"
	AuditRestored AuditResult = "restored"
	AuditExpired  AuditResult = "expired"
	AuditRevoked  AuditResult = "revoked"
)

func (e *Engine) startAuditor() {
	e.spawn(context.Background(), "auditor", func(ctx context.Context) {
		ticker := time.NewTicker(e.cfg.AuditInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Audit(ctx)
			}
		}
	})
}

// Audit re-validates the stored token against the expected code. A missing
// token is restored from the session backup when the backup matches this
// device; otherwise, or when the token no longer validates, an active
// entitlement is revoked.
func (e *Engine) Audit(ctx context.Context) AuditResult {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	var result AuditResult
	e.traceOperation(ctx, "audit", func(ctx context.Context) error {
		result = e.audit(ctx)
		if result == AuditRevoked {
			return apperrors.ErrTokenTampered
		}
		return nil
	})
	return result
}

func (e *Engine) audit(ctx context.Context) AuditResult {
	e.mu.RLock()
	deviceID, expected := e.deviceID, e.expected
	state, expires := e.state, e.expires
	e.mu.RUnlock()

	if deviceID == "" || expected == "" {
		return AuditSkipped
	}

	tok, err := e.tokens.Read(ctx)
	if err != nil {
		e.logWarn(ctx, "audit", "stored token unreadable",
			slog.String("error_type", apperrors.Classify(err)))
		tok = nil
	}

	if tok == nil {
		if e.restoreFromBackup(ctx, deviceID, expected, state, expires) {
			return AuditRestored
		}
		if state.Active() {
			e.revoke(ctx, apperrors.ErrTokenTampered)
			return AuditRevoked
		}
		return AuditOK
	}

	switch tok.Validate(expected, e.now(), activation.SecureCompare) {
	case token.Valid:
		return AuditOK
	case token.Expired:
		if !state.Active() {
			return AuditOK
		}
		e.expire(ctx)
		return AuditExpired
	default:
		if !state.Active() {
			return AuditOK
		}
		e.logWarn(ctx, "audit", "stored token does not match this device",
			slog.String("code_masked", maskCode(tok.Code)))
		e.revoke(ctx, apperrors.ErrTokenTampered)
		return AuditRevoked
	}
}

// restoreFromBackup rewrites a missing token from the session backup. Only
// an active engine restores, and only a backup for this device and code.
func (e *Engine) restoreFromBackup(ctx context.Context, deviceID, expected string, state State, expires *time.Time) bool {
	backup, ok := e.tokens.RestoreBackup(ctx)
	if !ok || !state.Active() {
		return false
	}
	if !activation.SecureCompare(backup.Code, expected) || backup.DeviceID != deviceID {
		e.logWarn(ctx, "audit", "session backup rejected")
		return false
	}

	if state == StateDemoActive && expires != nil {
		e.writeToken(ctx, token.Demo(expected, *expires))
	} else {
		e.writeLegacy(ctx, expected)
	}
	e.logInfo(ctx, "audit", "entitlement token restored from session backup")
	return true
}
