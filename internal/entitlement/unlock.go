package entitlement

import (
	"context"
	"log/slog"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/activation"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/config"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/token"
)

// UnlockApp activates the device with a code. A wrong code changes nothing.
// A matching code always succeeds, even after a run of wrong ones; the
// authority only decides whether the grant is permanent or time-limited, and
// is assumed permanent when unreachable.
func (e *Engine) UnlockApp(ctx context.Context, code string) Result {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	var result Result
	var throttled bool
	e.traceOperation(ctx, "unlock", func(ctx context.Context) error {
		result, throttled = e.unlock(ctx, code)
		if result.Status == StatusInvalidCode {
			return apperrors.ErrInvalidCode
		}
		return nil
	})
	e.recordUnlock(ctx, result.Status, throttled)
	return result
}

// unlock also reports whether a rejected code arrived after the burst of
// allowed mismatches was spent
func (e *Engine) unlock(ctx context.Context, code string) (Result, bool) {
	deviceID, expected := e.identify(ctx)
	now := e.now()

	candidate := activation.Normalize(code)
	if !activation.SecureCompare(candidate, expected) {
		attrs := []slog.Attr{
			slog.String("code_masked", maskCode(candidate)),
			slog.String("code_hash", hashCode(candidate)),
		}
		if !e.limiter.fail(now) {
			e.logWarn(ctx, "unlock", "repeated invalid activation codes",
				append(attrs, slog.Bool("throttled", true))...)
			return Result{Success: false, Status: StatusInvalidCode}, true
		}
		e.logWarn(ctx, "unlock", "activation code rejected", attrs...)
		return Result{Success: false, Status: StatusInvalidCode}, false
	}

	e.mu.Lock()
	e.suspended = false
	e.mu.Unlock()

	rec, err := e.authority.GetLicense(ctx, deviceID, e.cfg.ProductID)
	if err != nil {
		e.remoteFailed(ctx, "get_license", err)
		rec = nil
	}

	if rec != nil && rec.Type.IsTimeLimited() && rec.ExpiresAt != nil {
		if !now.Before(*rec.ExpiresAt) {
			e.clearToken(ctx)
			e.setNotices(config.MsgTrialEnded, "")
			e.lock(ctx)
			e.logWarn(ctx, "unlock", "code accepted but the authority record is an expired time-limited license",
				slog.String("type", string(rec.Type)),
				slog.Time("expires_at", *rec.ExpiresAt))
			return Result{Success: true, Status: StatusPremiumActivated}, false
		}
		e.writeToken(ctx, token.Demo(expected, *rec.ExpiresAt))
		e.activate(ctx, StateDemoActive, rec.ExpiresAt, false)
	} else {
		e.writeLegacy(ctx, expected)
		e.activate(ctx, StatePremiumActive, nil, false)
	}

	e.logInfo(ctx, "unlock", "device activated",
		slog.String("code_hash", hashCode(expected)),
		slog.Bool("remote_known", rec != nil))
	return Result{Success: true, Status: StatusPremiumActivated}, false
}
