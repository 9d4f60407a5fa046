// Package services is the layer between the HTTP handlers and the
// entitlement engine.
//
// EntitlementService turns engine results into response types and maps
// failed attempts (invalid code, demo used, rate limited) onto the sentinel
// errors in internal/errors so handlers can render RFC 7807 problems.
// HealthService checks the engine, the device identity, the local store and
// the license authority.
//
// Services take their collaborators as small interfaces and log through an
// injected *slog.Logger:
//
//	svc := services.NewEntitlementService(engine, logger)
//	resp, err := svc.Unlock(ctx, code)
package services
