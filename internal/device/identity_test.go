package device

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/config"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/storage"
)

var formatRE = regexp.MustCompile(`^PDA-[A-Z0-9]{4}$`)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// failingKV fails reads and/or writes
type failingKV struct {
	storage.KV
	failGet bool
	failSet bool
}

func (f *failingKV) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failGet {
		return "", false, errors.New("disk unavailable")
	}
	return f.KV.Get(ctx, key)
}

func (f *failingKV) Set(ctx context.Context, key, value string) error {
	if f.failSet {
		return errors.New("quota exceeded")
	}
	return f.KV.Set(ctx, key, value)
}

func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and persists once", func(t *testing.T) {
		kv := storage.NewSessionStore(0)
		id := NewIdentity(kv, "PDA", discardLogger())

		first := id.GetOrCreate(ctx)
		assert.Regexp(t, formatRE, first)
		assert.False(t, id.Ephemeral())

		stored, found, err := kv.Get(ctx, config.KeyDeviceID)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, first, stored)

		// a fresh Identity over the same store returns the same ID
		again := NewIdentity(kv, "PDA", discardLogger()).GetOrCreate(ctx)
		assert.Equal(t, first, again)
	})

	t.Run("reuses existing id", func(t *testing.T) {
		kv := storage.NewSessionStore(0)
		require.NoError(t, kv.Set(ctx, config.KeyDeviceID, "PDA-7Q2K"))

		assert.Equal(t, "PDA-7Q2K", NewIdentity(kv, "PDA", discardLogger()).GetOrCreate(ctx))
	})

	t.Run("read failure yields ephemeral id", func(t *testing.T) {
		kv := &failingKV{KV: storage.NewSessionStore(0), failGet: true}
		id := NewIdentity(kv, "PDA", discardLogger())

		got := id.GetOrCreate(ctx)
		assert.Regexp(t, formatRE, got)
		assert.True(t, id.Ephemeral())
		assert.Equal(t, got, id.GetOrCreate(ctx), "stable for the run")
	})

	t.Run("write failure yields ephemeral id", func(t *testing.T) {
		kv := &failingKV{KV: storage.NewSessionStore(0), failSet: true}
		id := NewIdentity(kv, "PDA", discardLogger())

		got := id.GetOrCreate(ctx)
		assert.Regexp(t, formatRE, got)
		assert.True(t, id.Ephemeral())
	})

	t.Run("default prefix", func(t *testing.T) {
		got := NewIdentity(storage.NewSessionStore(0), "", discardLogger()).GetOrCreate(ctx)
		assert.Regexp(t, formatRE, got)
	})

	t.Run("concurrent callers agree", func(t *testing.T) {
		id := NewIdentity(storage.NewSessionStore(0), "PDA", discardLogger())

		var wg sync.WaitGroup
		results := make([]string, 16)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = id.GetOrCreate(ctx)
			}(i)
		}
		wg.Wait()

		for _, r := range results {
			assert.Equal(t, results[0], r)
		}
	})
}
