package authority

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/config"
)

// New builds the Authority selected by cfg.Backend
func New(ctx context.Context, cfg config.AuthorityConfig, logger *slog.Logger) (Authority, error) {
	switch cfg.Backend {
	case "http", "":
		return NewClient(cfg, logger)
	case "sheets":
		return NewSheetsAuthority(ctx, cfg.SheetID, logger, option.WithCredentialsFile(cfg.CredentialsFile))
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported authority backend: %s", cfg.Backend)
	}
}
