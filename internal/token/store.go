package token

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/config"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/storage"
)

// Backup is the same-session copy written after a positive validation
type Backup struct {
	Code     string    `json:"code"`
	DeviceID string    `json:"deviceId"`
	SavedAt  time.Time `json:"savedAt"`
}

// Store reads and writes the obfuscated token and its session backup
type Store struct {
	durable storage.KV
	session storage.KV
	codec   *Codec
	logger  *slog.Logger
}

// NewStore creates a Store over a durable KV and a volatile session KV
func NewStore(durable, session storage.KV, codec *Codec, logger *slog.Logger) *Store {
	if codec == nil {
		codec = NewCodec()
	}
	return &Store{
		durable: durable,
		session: session,
		codec:   codec,
		logger:  logger.With(slog.String("component", "token_store")),
	}
}

// Read returns the persisted token, nil when none is stored, or
// ErrCorruptToken when the value cannot be decoded.
func (s *Store) Read(ctx context.Context) (*Token, error) {
	raw, found, err := s.durable.Get(ctx, config.KeyEntitlement)
	if err != nil {
		return nil, err
	}
	if !found || raw == "" {
		return nil, nil
	}

	plain, err := s.codec.Open(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCorruptToken, err)
	}
	plain = strings.TrimSpace(plain)
	if plain == "" || !printable(plain) {
		return nil, apperrors.ErrCorruptToken
	}

	if strings.HasPrefix(plain, "{") {
		var t Token
		if err := json.Unmarshal([]byte(plain), &t); err == nil {
			return &t, nil
		}
		s.logger.DebugContext(ctx, "token is not wrapped json, reading as legacy code")
	}

	return &Token{Code: plain, Legacy: true}, nil
}

// Write persists t in the wrapped format
func (s *Store) Write(ctx context.Context, t Token) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	return s.durable.Set(ctx, config.KeyEntitlement, s.codec.Encode(string(data)))
}

// WriteLegacy persists a bare permanent code
func (s *Store) WriteLegacy(ctx context.Context, code string) error {
	return s.durable.Set(ctx, config.KeyEntitlement, s.codec.Encode(code))
}

// Clear removes the persisted token
func (s *Store) Clear(ctx context.Context) error {
	return s.durable.Delete(ctx, config.KeyEntitlement)
}

// Backup stores a session copy of a code that has just validated
func (s *Store) Backup(ctx context.Context, code, deviceID string) error {
	data, err := json.Marshal(Backup{Code: code, DeviceID: deviceID, SavedAt: time.Now()})
	if err != nil {
		return err
	}
	return s.session.Set(ctx, config.KeyEntitlementBackup, s.codec.Encode(string(data)))
}

// RestoreBackup returns the session backup if one exists and decodes
func (s *Store) RestoreBackup(ctx context.Context) (Backup, bool) {
	raw, found, err := s.session.Get(ctx, config.KeyEntitlementBackup)
	if err != nil || !found {
		return Backup{}, false
	}

	plain, err := s.codec.Open(raw)
	if err != nil {
		return Backup{}, false
	}

	var b Backup
	if err := json.Unmarshal([]byte(plain), &b); err != nil || b.Code == "" {
		return Backup{}, false
	}
	return b, true
}

// ClearBackup drops the session backup
func (s *Store) ClearBackup(ctx context.Context) error {
	return s.session.Delete(ctx, config.KeyEntitlementBackup)
}

func printable(s string) bool {
	for _, r := range s {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
