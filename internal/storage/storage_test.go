package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// =============================================================================
// SQLite store
// =============================================================================

type SQLiteStoreTestSuite struct {
	suite.Suite
	path  string
	store *SQLiteStore
	ctx   context.Context
}

func (s *SQLiteStoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.path = filepath.Join(s.T().TempDir(), "bodega.db")

	store, err := OpenSQLite(s.path, discardLogger())
	s.Require().NoError(err)
	s.store = store
}

func (s *SQLiteStoreTestSuite) TearDownTest() {
	if s.store != nil {
		s.store.Close()
	}
}

func (s *SQLiteStoreTestSuite) TestMissingKey() {
	value, found, err := s.store.Get(s.ctx, "bodega.device_id")
	s.NoError(err)
	s.False(found)
	s.Empty(value)
}

func (s *SQLiteStoreTestSuite) TestSetGetOverwrite() {
	s.Require().NoError(s.store.Set(s.ctx, "bodega.device_id", "PDA-7Q2K"))
	s.Require().NoError(s.store.Set(s.ctx, "bodega.device_id", "PDA-ZZ99"))

	value, found, err := s.store.Get(s.ctx, "bodega.device_id")
	s.NoError(err)
	s.True(found)
	s.Equal("PDA-ZZ99", value)
}

func (s *SQLiteStoreTestSuite) TestDelete() {
	s.Require().NoError(s.store.Set(s.ctx, "bodega.entitlement", "abc"))
	s.Require().NoError(s.store.Delete(s.ctx, "bodega.entitlement"))
	s.Require().NoError(s.store.Delete(s.ctx, "bodega.entitlement"), "deleting twice is fine")

	_, found, err := s.store.Get(s.ctx, "bodega.entitlement")
	s.NoError(err)
	s.False(found)
}

func (s *SQLiteStoreTestSuite) TestSurvivesReopen() {
	s.Require().NoError(s.store.Set(s.ctx, "bodega.device_id", "PDA-7Q2K"))
	s.Require().NoError(s.store.Close())

	reopened, err := OpenSQLite(s.path, discardLogger())
	s.Require().NoError(err)
	s.store = reopened

	value, found, err := reopened.Get(s.ctx, "bodega.device_id")
	s.NoError(err)
	s.True(found)
	s.Equal("PDA-7Q2K", value)
	s.NoError(reopened.Ping(s.ctx))
}

func (s *SQLiteStoreTestSuite) TestConcurrentWriters() {
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.NoError(s.store.Set(s.ctx, "bodega.entitlement", string(rune('A'+i))))
		}(i)
	}
	wg.Wait()

	value, found, err := s.store.Get(s.ctx, "bodega.entitlement")
	s.NoError(err)
	s.True(found)
	s.Len(value, 1)
}

func TestSQLiteStoreSuite(t *testing.T) {
	suite.Run(t, new(SQLiteStoreTestSuite))
}

func TestOpenSQLiteInMemory(t *testing.T) {
	store, err := OpenSQLite("file::memory:", discardLogger())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", "v"))
	value, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", value)
}

// =============================================================================
// Session store
// =============================================================================

func TestSessionStore(t *testing.T) {
	ctx := context.Background()

	t.Run("lifecycle", func(t *testing.T) {
		s := NewSessionStore(0)
		defer s.Close()

		_, found, err := s.Get(ctx, "bodega.entitlement_backup")
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, s.Set(ctx, "bodega.entitlement_backup", `{"code":"ACTIV-1234-ABCD"}`))
		value, found, err := s.Get(ctx, "bodega.entitlement_backup")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, `{"code":"ACTIV-1234-ABCD"}`, value)
		assert.Equal(t, 1, s.Len())

		require.NoError(t, s.Delete(ctx, "bodega.entitlement_backup"))
		assert.Equal(t, 0, s.Len())
	})

	t.Run("ttl expiry", func(t *testing.T) {
		s := NewSessionStore(20 * time.Millisecond)
		defer s.Close()

		require.NoError(t, s.Set(ctx, "k", "v"))
		assert.Eventually(t, func() bool {
			_, found, _ := s.Get(ctx, "k")
			return !found
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		s := NewSessionStore(time.Minute)
		s.Close()
		s.Close()
	})
}
