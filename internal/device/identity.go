// Package device owns the per-installation identifier that activation codes
// are bound to.
package device

import (
	"context"
	"crypto/rand"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/config"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/storage"
)

const (
	suffixLength = 4
	alphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var idPattern = regexp.MustCompile(`^[A-Z0-9]+-[A-Z0-9]{4}$`)

// Identity returns a stable device ID, creating and persisting it on first use
type Identity struct {
	store  storage.KV
	prefix string
	logger *slog.Logger

	mu        sync.Mutex
	id        string
	ephemeral bool
}

// NewIdentity creates an Identity persisting under config.KeyDeviceID
func NewIdentity(store storage.KV, prefix string, logger *slog.Logger) *Identity {
	if prefix == "" {
		prefix = config.DefaultDevicePrefix
	}
	return &Identity{
		store:  store,
		prefix: strings.ToUpper(prefix),
		logger: logger.With(slog.String("component", "device_identity")),
	}
}

// GetOrCreate returns the persisted ID, generating and storing one if none
// exists. It never fails: if storage is unusable the ID is kept in memory for
// this run only and Ephemeral reports true.
func (i *Identity) GetOrCreate(ctx context.Context) string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.id != "" {
		return i.id
	}

	stored, found, err := i.store.Get(ctx, config.KeyDeviceID)
	if err != nil {
		i.logger.WarnContext(ctx, "device id read failed, using ephemeral id",
			slog.String("error", err.Error()))
		i.id, i.ephemeral = i.generate(), true
		return i.id
	}
	if found && stored != "" {
		if !idPattern.MatchString(stored) {
			i.logger.WarnContext(ctx, "persisted device id has unexpected format",
				slog.String("device_id", stored))
		}
		i.id = stored
		return i.id
	}

	id := i.generate()
	if err := i.store.Set(ctx, config.KeyDeviceID, id); err != nil {
		i.logger.WarnContext(ctx, "device id write failed, using ephemeral id",
			slog.String("device_id", id),
			slog.String("error", err.Error()))
		i.ephemeral = true
	} else {
		i.logger.InfoContext(ctx, "device id created", slog.String("device_id", id))
	}
	i.id = id
	return i.id
}

// Ephemeral reports whether the current ID could not be persisted
func (i *Identity) Ephemeral() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ephemeral
}

func (i *Identity) generate() string {
	buf := make([]byte, suffixLength)
	if _, err := rand.Read(buf); err != nil {
		i.logger.Warn("random source failed", slog.String("error", err.Error()))
	}

	var b strings.Builder
	b.WriteString(i.prefix)
	b.WriteByte('-')
	for _, c := range buf {
		b.WriteByte(alphabet[int(c)%len(alphabet)])
	}
	return b.String()
}
