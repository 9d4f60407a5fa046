package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/infrastructure"
)

const maxClientMessage = 2048

// ClientLogHandler forwards front-end log entries into the service log
type ClientLogHandler struct {
	errors *apperrors.ErrorHandler
	logger *slog.Logger
}

// NewClientLogHandler creates a new client log handler
func NewClientLogHandler(errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *ClientLogHandler {
	return &ClientLogHandler{
		errors: errorHandler,
		logger: logger.With(slog.String("handler", "client_log")),
	}
}

// LogRequest represents a client log entry
type LogRequest struct {
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Source  string                 `json:"source,omitempty"`
}

// Bind implements the render.Binder interface
func (l *LogRequest) Bind(r *http.Request) error {
	if strings.TrimSpace(l.Message) == "" {
		return apperrors.ErrValidation("message", "message is required")
	}
	if len(l.Message) > maxClientMessage {
		l.Message = l.Message[:maxClientMessage]
	}
	return nil
}

func (l *LogRequest) slogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Handle handles POST /api/logs
func (h *ClientLogHandler) Handle(w http.ResponseWriter, r *http.Request) {
	req := &LogRequest{}
	if err := render.Bind(r, req); err != nil {
		if _, ok := err.(*apperrors.APIError); !ok {
			err = apperrors.InvalidRequestWithError(err)
		}
		h.errors.HandleError(w, r, err)
		return
	}

	attrs := []slog.Attr{
		slog.String("client_source", req.Source),
		slog.String("trace_id", infrastructure.TraceIDFromContext(r.Context())),
	}
	if req.Data != nil {
		attrs = append(attrs, slog.Any("data", req.Data))
	}
	h.logger.LogAttrs(r.Context(), req.slogLevel(), req.Message, attrs...)

	render.JSON(w, r, map[string]interface{}{"success": true})
}
