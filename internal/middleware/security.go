package middleware

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
)

// OperatorKeyHeader carries the operator API key
const OperatorKeyHeader = "X-Operator-Key"

// OperatorAuth restricts operator endpoints to callers presenting key. An
// empty key disables the endpoints entirely.
func OperatorAuth(key string, errorHandler *errors.ErrorHandler, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if key == "" {
				logger.WarnContext(ctx, "operator endpoint called without a configured key",
					slog.String("path", r.URL.Path))
				errorHandler.HandleError(w, r, errors.ErrForbidden)
				return
			}

			given := r.Header.Get(OperatorKeyHeader)
			if given == "" {
				errorHandler.HandleError(w, r, errors.ErrUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
				logger.WarnContext(ctx, "invalid operator key",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr))
				errorHandler.HandleError(w, r, errors.ErrUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SecureHeaders provides configurable security headers
type SecureHeaders struct {
	HSTSMaxAge            int
	ContentSecurityPolicy string
	XFrameOptions         string
	XContentTypeOptions   string
	ReferrerPolicy        string
	PermissionsPolicy     string

	// DevMode relaxes the content security policy
	DevMode bool
}

// DefaultSecureHeaders returns secure headers with default settings
func DefaultSecureHeaders() *SecureHeaders {
	return &SecureHeaders{
		HSTSMaxAge:          63072000,
		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "strict-origin-when-cross-origin",
	}
}

// Handler returns the middleware handler
func (sh *SecureHeaders) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()

		if sh.HSTSMaxAge > 0 && r.TLS != nil {
			h.Set("Strict-Transport-Security", fmt.Sprintf("max-age=%d; includeSubDomains", sh.HSTSMaxAge))
		}

		switch {
		case sh.ContentSecurityPolicy != "":
			h.Set("Content-Security-Policy", sh.ContentSecurityPolicy)
		case !sh.DevMode:
			h.Set("Content-Security-Policy", defaultCSP)
		}

		if sh.XFrameOptions != "" {
			h.Set("X-Frame-Options", sh.XFrameOptions)
		}
		if sh.XContentTypeOptions != "" {
			h.Set("X-Content-Type-Options", sh.XContentTypeOptions)
		}
		if sh.ReferrerPolicy != "" {
			h.Set("Referrer-Policy", sh.ReferrerPolicy)
		}

		if sh.PermissionsPolicy != "" {
			h.Set("Permissions-Policy", sh.PermissionsPolicy)
		} else if !sh.DevMode {
			h.Set("Permissions-Policy", defaultPermissionsPolicy)
		}

		next.ServeHTTP(w, r)
	})
}

var defaultCSP = strings.Join([]string{
	"default-src 'self'",
	"img-src 'self' data: blob:",
	"connect-src 'self'",
	"frame-ancestors 'none'",
	"base-uri 'self'",
	"form-action 'self'",
}, "; ")

// The POS scans barcodes with the camera
var defaultPermissionsPolicy = strings.Join([]string{
	"geolocation=()",
	"microphone=()",
	"payment=()",
	"camera=(self)",
}, ", ")
