package entitlement

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/infrastructure"
)

// logAction logs an engine action with trace correlation and mirrors it as a
// span event when a span is recording.
func (e *Engine) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	infrastructure.AddSpanEvent(ctx, "entitlement."+action, map[string]interface{}{
		"action": action,
		"result": result,
	})

	all := []slog.Attr{
		slog.String("action", action),
		slog.String("result", result),
		slog.String("trace_id", infrastructure.TraceIDFromContext(ctx)),
	}
	all = append(all, attrs...)
	e.logger.LogAttrs(ctx, level, result, all...)
}

func (e *Engine) logDebug(ctx context.Context, action, result string, attrs ...slog.Attr) {
	e.logAction(ctx, slog.LevelDebug, action, result, attrs...)
}

func (e *Engine) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	e.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (e *Engine) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	e.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (e *Engine) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	e.logAction(ctx, slog.LevelError, action, result, attrs...)
}

// maskCode keeps only the fixed prefix of an activation code
func maskCode(code string) string {
	if len(code) <= 6 {
		return "****"
	}
	return code[:6] + "****"
}

// hashCode is a short digest for correlating codes across log lines
func hashCode(code string) string {
	if code == "" {
		return ""
	}
	h := sha256.Sum256([]byte(code))
	return fmt.Sprintf("%x", h)[:16]
}
