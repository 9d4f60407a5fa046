package authority

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/config"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeAuthorityServer speaks the license-authority wire protocol over a Memory
type fakeAuthorityServer struct {
	mem      *Memory
	apiKey   string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	streams []*websocket.Conn
}

func (f *fakeAuthorityServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get(APIKeyHeader) != f.apiKey {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/v1/licenses/{deviceID}", func(w http.ResponseWriter, req *http.Request) {
		rec, _ := f.mem.GetLicense(req.Context(), chi.URLParam(req, "deviceID"), req.URL.Query().Get("product"))
		if rec == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(rec)
	})
	r.Put("/v1/licenses/{deviceID}", func(w http.ResponseWriter, req *http.Request) {
		var fields LicenseFields
		json.NewDecoder(req.Body).Decode(&fields)
		f.mem.UpsertLicense(req.Context(), chi.URLParam(req, "deviceID"), req.URL.Query().Get("product"), fields)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/v1/licenses/{deviceID}/touch", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			At time.Time `json:"at"`
		}
		json.NewDecoder(req.Body).Decode(&body)
		f.mem.TouchLastSeen(req.Context(), chi.URLParam(req, "deviceID"), req.URL.Query().Get("product"), body.At)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/v1/heartbeats", func(w http.ResponseWriter, req *http.Request) {
		var hb Heartbeat
		json.NewDecoder(req.Body).Decode(&hb)
		f.mem.AppendHeartbeat(req.Context(), hb)
		w.WriteHeader(http.StatusCreated)
	})
	r.Get("/v1/demos/{deviceID}", func(w http.ResponseWriter, req *http.Request) {
		demo, _ := f.mem.GetDemo(req.Context(), chi.URLParam(req, "deviceID"), req.URL.Query().Get("product"))
		if demo == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(demo)
	})
	r.Put("/v1/demos/{deviceID}", func(w http.ResponseWriter, req *http.Request) {
		var demo DemoRecord
		json.NewDecoder(req.Body).Decode(&demo)
		f.mem.UpsertDemo(req.Context(), demo)
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/v1/broken", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	r.Get("/v1/stream", func(w http.ResponseWriter, req *http.Request) {
		conn, err := f.upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.streams = append(f.streams, conn)
		f.mu.Unlock()
	})
	return r
}

func (f *fakeAuthorityServer) push(event ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.streams {
		conn.WriteJSON(event)
	}
}

func (f *fakeAuthorityServer) dropStreams() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conn := range f.streams {
		conn.Close()
	}
	f.streams = nil
}

func (f *fakeAuthorityServer) streamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

// =============================================================================
// Client suite
// =============================================================================

type ClientTestSuite struct {
	suite.Suite
	fake   *fakeAuthorityServer
	server *httptest.Server
	client *Client
	ctx    context.Context
}

func (s *ClientTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.fake = &fakeAuthorityServer{mem: NewMemory(), apiKey: "device-key"}
	s.server = httptest.NewServer(s.fake.routes())

	client, err := NewClient(config.AuthorityConfig{
		BaseURL: s.server.URL,
		APIKey:  "device-key",
		Timeout: 2 * time.Second,
	}, discardLogger())
	s.Require().NoError(err)
	client.SetReconnectBackoff(10*time.Millisecond, 50*time.Millisecond)
	s.client = client
}

func (s *ClientTestSuite) TearDownTest() {
	s.fake.dropStreams()
	s.server.Close()
}

func (s *ClientTestSuite) TestMissingRecordsAreNil() {
	rec, err := s.client.GetLicense(s.ctx, "PDA-7Q2K", "bodega")
	s.NoError(err)
	s.Nil(rec)

	demo, err := s.client.GetDemo(s.ctx, "PDA-7Q2K", "bodega")
	s.NoError(err)
	s.Nil(demo)
}

func (s *ClientTestSuite) TestLicenseRoundTrip() {
	exp := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	s.Require().NoError(s.client.UpsertLicense(s.ctx, "PDA-7Q2K", "bodega",
		LicenseFields{Type: DemoType(3), Active: true, ExpiresAt: &exp}))

	seen := time.Now().UTC().Truncate(time.Second)
	s.Require().NoError(s.client.TouchLastSeen(s.ctx, "PDA-7Q2K", "bodega", seen))

	rec, err := s.client.GetLicense(s.ctx, "PDA-7Q2K", "bodega")
	s.Require().NoError(err)
	s.Require().NotNil(rec)
	s.Equal(DemoType(3), rec.Type)
	s.True(rec.Active)
	s.True(rec.ExpiresAt.Equal(exp))
	s.True(rec.LastSeenAt.Equal(seen))
}

func (s *ClientTestSuite) TestDemoAndHeartbeat() {
	exp := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)
	s.Require().NoError(s.client.UpsertDemo(s.ctx, DemoRecord{
		DeviceID: "PDA-7Q2K", ProductID: "bodega", ExpiresAt: exp, AppVersion: "1.0.0",
	}))
	demo, err := s.client.GetDemo(s.ctx, "PDA-7Q2K", "bodega")
	s.Require().NoError(err)
	s.Require().NotNil(demo)
	s.True(demo.ExpiresAt.Equal(exp))

	s.Require().NoError(s.client.AppendHeartbeat(s.ctx, Heartbeat{
		DeviceID: "PDA-7Q2K", ProductID: "bodega", AppVersion: "1.0.0", At: time.Now(),
	}))
	s.Len(s.fake.mem.Heartbeats(), 1)
}

func (s *ClientTestSuite) TestWrongAPIKey() {
	client, err := NewClient(config.AuthorityConfig{BaseURL: s.server.URL, APIKey: "wrong"}, discardLogger())
	s.Require().NoError(err)

	_, err = client.GetLicense(s.ctx, "PDA-7Q2K", "bodega")
	s.ErrorIs(err, apperrors.ErrUnauthorized)
	s.NotErrorIs(err, apperrors.ErrNetworkUnavailable)
}

func (s *ClientTestSuite) TestServerErrorIsNetworkError() {
	err := s.client.do(s.ctx, "broken", http.MethodGet, s.client.endpoint("/v1/broken", nil), nil, nil)
	s.ErrorIs(err, apperrors.ErrNetworkUnavailable)
}

func (s *ClientTestSuite) TestUnreachable() {
	s.server.Close()
	_, err := s.client.GetLicense(s.ctx, "PDA-7Q2K", "bodega")
	s.ErrorIs(err, apperrors.ErrNetworkUnavailable)
}

func (s *ClientTestSuite) TestStreamDeliversAndReconnects() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	events, err := s.client.Subscribe(ctx, "PDA-7Q2K")
	s.Require().NoError(err)
	s.Require().Eventually(func() bool { return s.fake.streamCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.fake.push(ChangeEvent{DeviceID: "PDA-7Q2K", ProductID: "bodega", Active: false})
	select {
	case ev := <-events:
		s.Equal("PDA-7Q2K", ev.DeviceID)
		s.False(ev.Active)
	case <-time.After(2 * time.Second):
		s.Fail("expected change event")
	}

	s.fake.dropStreams()
	s.Require().Eventually(func() bool { return s.fake.streamCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.fake.push(ChangeEvent{DeviceID: "PDA-7Q2K", Active: true})
	select {
	case ev := <-events:
		s.True(ev.Active)
	case <-time.After(2 * time.Second):
		s.Fail("expected change event after reconnect")
	}

	cancel()
	s.Eventually(func() bool {
		select {
		case _, open := <-events:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientTestSuite))
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(config.AuthorityConfig{BaseURL: "not a url"}, discardLogger())
	assert.Error(t, err)
}

func TestStreamURL(t *testing.T) {
	c, err := NewClient(config.AuthorityConfig{BaseURL: "https://licenses.example.com/api/"}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "wss://licenses.example.com/api/v1/stream?device=PDA-1", c.streamURL("PDA-1"))
}

func TestNewBackends(t *testing.T) {
	a, err := New(context.Background(), config.AuthorityConfig{Backend: "memory"}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, a)

	a, err = New(context.Background(), config.AuthorityConfig{Backend: "http", BaseURL: "http://localhost:8090"}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &Client{}, a)

	_, err = New(context.Background(), config.AuthorityConfig{Backend: "carrier-pigeon"}, discardLogger())
	assert.Error(t, err)
}
