package entitlement

import (
	"context"
	"log/slog"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
)

// migrate creates the remote record for a locally confirmed entitlement if
// the authority has none. It runs detached and never affects local state.
func (e *Engine) migrate(ctx context.Context, deviceID string, fields authority.LicenseFields, legacy bool) {
	productID := e.cfg.ProductID
	e.spawn(ctx, "migrate", func(ctx context.Context) {
		rec, err := e.authority.GetLicense(ctx, deviceID, productID)
		if err != nil {
			e.remoteFailed(ctx, "migrate", err)
			return
		}
		if rec != nil {
			return
		}

		if err := e.authority.UpsertLicense(ctx, deviceID, productID, fields); err != nil {
			e.remoteFailed(ctx, "migrate", err)
			return
		}
		e.logInfo(ctx, "migrate", "local entitlement promoted to authority",
			slog.String("type", string(fields.Type)),
			slog.Bool("legacy", legacy))
	})
}
