package authorityserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/xuri/excelize/v2"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/config"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/exporter"
	ws "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/websocket"
)

const (
	testAPIKey   = "device-key"
	testPassword = "correct horse"
	testDevice   = "PDA-7Q2K"
	testProduct  = "bodega"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// ServerTestSuite drives the server through the real authority client
type ServerTestSuite struct {
	suite.Suite
	ctx    context.Context
	repo   *Repository
	hub    *ws.Hub
	server *httptest.Server
	client *authority.Client
}

func (s *ServerTestSuite) SetupTest() {
	s.ctx = context.Background()

	repo, err := OpenRepository("file::memory:", testLogger())
	s.Require().NoError(err)
	s.repo = repo

	hash, err := HashPassword(testPassword)
	s.Require().NoError(err)
	auth, err := NewAdminAuth("admin", hash, "jwt-secret", time.Hour)
	s.Require().NoError(err)

	s.hub = ws.NewHub(testLogger(), nil)
	s.hub.Start()

	s.server = httptest.NewServer(NewServer(repo, s.hub, auth, testAPIKey, testLogger()).Router())
	s.client = s.newClient(testAPIKey)
}

func (s *ServerTestSuite) TearDownTest() {
	s.server.Close()
	s.hub.Stop()
	s.repo.Close()
}

func (s *ServerTestSuite) newClient(apiKey string) *authority.Client {
	client, err := authority.NewClient(config.AuthorityConfig{
		BaseURL: s.server.URL,
		APIKey:  apiKey,
		Timeout: 2 * time.Second,
	}, testLogger())
	s.Require().NoError(err)
	client.SetReconnectBackoff(10*time.Millisecond, 50*time.Millisecond)
	return client
}

func (s *ServerTestSuite) TestLicenseRoundTrip() {
	rec, err := s.client.GetLicense(s.ctx, testDevice, testProduct)
	s.Require().NoError(err)
	s.Nil(rec)

	exp := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	s.Require().NoError(s.client.UpsertLicense(s.ctx, testDevice, testProduct, authority.LicenseFields{
		Type: authority.DemoType(3), Active: true, ExpiresAt: &exp,
	}))

	rec, err = s.client.GetLicense(s.ctx, testDevice, testProduct)
	s.Require().NoError(err)
	s.Require().NotNil(rec)
	s.Equal(authority.DemoType(3), rec.Type)
	s.True(rec.Active)
	s.True(rec.ExpiresAt.Equal(exp))

	s.Require().NoError(s.client.UpsertLicense(s.ctx, testDevice, testProduct, authority.LicenseFields{
		Type: authority.TypePermanent, Active: true,
	}))
	rec, err = s.client.GetLicense(s.ctx, testDevice, testProduct)
	s.Require().NoError(err)
	s.Equal(authority.TypePermanent, rec.Type)
	s.Nil(rec.ExpiresAt)
}

func (s *ServerTestSuite) TestProductScoping() {
	s.Require().NoError(s.client.UpsertLicense(s.ctx, testDevice, "other", authority.LicenseFields{
		Type: authority.TypePermanent, Active: true,
	}))
	rec, err := s.client.GetLicense(s.ctx, testDevice, testProduct)
	s.Require().NoError(err)
	s.Nil(rec)
}

func (s *ServerTestSuite) TestTouchAndHeartbeat() {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.NoError(s.client.TouchLastSeen(s.ctx, testDevice, testProduct, at), "no record is not an error")

	s.Require().NoError(s.client.UpsertLicense(s.ctx, testDevice, testProduct, authority.LicenseFields{
		Type: authority.TypePermanent, Active: true,
	}))
	s.Require().NoError(s.client.TouchLastSeen(s.ctx, testDevice, testProduct, at))
	s.Require().NoError(s.client.AppendHeartbeat(s.ctx, authority.Heartbeat{
		DeviceID: testDevice, ProductID: testProduct, AppVersion: "1.0.0", At: at,
	}))

	rec, err := s.client.GetLicense(s.ctx, testDevice, testProduct)
	s.Require().NoError(err)
	s.Require().NotNil(rec.LastSeenAt)
	s.True(rec.LastSeenAt.Equal(at))

	beats, err := s.repo.Heartbeats(s.ctx, testDevice, 10)
	s.Require().NoError(err)
	s.Require().Len(beats, 1)
	s.Equal("1.0.0", beats[0].AppVersion)
}

func (s *ServerTestSuite) TestHeartbeatValidation() {
	err := s.client.AppendHeartbeat(s.ctx, authority.Heartbeat{ProductID: testProduct})
	s.Error(err)
	s.NotErrorIs(err, apperrors.ErrNetworkUnavailable)
}

func (s *ServerTestSuite) TestDemoKeepsFirstRegistration() {
	demo, err := s.client.GetDemo(s.ctx, testDevice, testProduct)
	s.Require().NoError(err)
	s.Nil(demo)

	first := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	s.Require().NoError(s.client.UpsertDemo(s.ctx, authority.DemoRecord{
		DeviceID: testDevice, ProductID: testProduct, ExpiresAt: first, AppVersion: "1.0.0",
	}))
	s.Require().NoError(s.client.UpsertDemo(s.ctx, authority.DemoRecord{
		DeviceID: testDevice, ProductID: testProduct, ExpiresAt: first.Add(72 * time.Hour),
	}))

	demo, err = s.client.GetDemo(s.ctx, testDevice, testProduct)
	s.Require().NoError(err)
	s.Require().NotNil(demo)
	s.True(demo.ExpiresAt.Equal(first))
	s.Equal("1.0.0", demo.AppVersion)
}

func (s *ServerTestSuite) TestRejectsWrongAPIKey() {
	_, err := s.newClient("wrong").GetLicense(s.ctx, testDevice, testProduct)
	s.ErrorIs(err, apperrors.ErrUnauthorized)
}

func (s *ServerTestSuite) TestMissingProductIsBadRequest() {
	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/v1/licenses/"+testDevice, nil)
	s.Require().NoError(err)
	req.Header.Set(authority.APIKeyHeader, testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *ServerTestSuite) TestHealth() {
	s.NoError(s.client.Ping(s.ctx))
}

func (s *ServerTestSuite) TestAdminRequiresLogin() {
	_, err := s.client.ListLicenses(s.ctx)
	s.ErrorIs(err, apperrors.ErrUnauthorized)

	s.ErrorIs(s.client.Login(s.ctx, "admin", "wrong"), apperrors.ErrUnauthorized)
	s.ErrorIs(s.client.Login(s.ctx, "root", testPassword), apperrors.ErrUnauthorized)
}

func (s *ServerTestSuite) TestAdminListAndSetActive() {
	s.Require().NoError(s.client.UpsertLicense(s.ctx, testDevice, testProduct, authority.LicenseFields{
		Type: authority.TypePermanent, Active: true,
	}))
	s.Require().NoError(s.client.Login(s.ctx, "admin", testPassword))

	recs, err := s.client.ListLicenses(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	s.Equal(testDevice, recs[0].DeviceID)

	s.ErrorIs(s.client.SetActive(s.ctx, "PDA-NONE", testProduct, false), apperrors.ErrRecordNotFound)

	s.Require().NoError(s.client.SetActive(s.ctx, testDevice, testProduct, false))
	rec, err := s.client.GetLicense(s.ctx, testDevice, testProduct)
	s.Require().NoError(err)
	s.False(rec.Active)
}

func (s *ServerTestSuite) TestSetActiveStreamsToDevice() {
	s.Require().NoError(s.client.UpsertLicense(s.ctx, testDevice, testProduct, authority.LicenseFields{
		Type: authority.TypePermanent, Active: true,
	}))
	s.Require().NoError(s.client.Login(s.ctx, "admin", testPassword))

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	events, err := s.newClient(testAPIKey).Subscribe(ctx, testDevice)
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		return s.hub.DeviceClientCount(testDevice) == 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Require().NoError(s.client.SetActive(s.ctx, testDevice, testProduct, false))

	select {
	case ev := <-events:
		s.Equal(testDevice, ev.DeviceID)
		s.Equal(testProduct, ev.ProductID)
		s.False(ev.Active)
	case <-time.After(2 * time.Second):
		s.Fail("no change event received")
	}

	cancel()
	s.Eventually(func() bool {
		_, open := <-events
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}

func (s *ServerTestSuite) TestExportXLSX() {
	exp := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	s.Require().NoError(s.client.UpsertLicense(s.ctx, testDevice, testProduct, authority.LicenseFields{
		Type: authority.DemoType(3), Active: true, ExpiresAt: &exp,
	}))

	hash, err := HashPassword(testPassword)
	s.Require().NoError(err)
	auth, err := NewAdminAuth("admin", hash, "jwt-secret", time.Hour)
	s.Require().NoError(err)
	token, _, err := auth.Login("admin", testPassword)
	s.Require().NoError(err)

	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/v1/admin/licenses.xlsx", nil)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Equal(exporter.FormatXLSX.ContentType(), resp.Header.Get("Content-Type"))

	f, err := excelize.OpenReader(resp.Body)
	s.Require().NoError(err)
	defer f.Close()

	rows, err := f.GetRows(exporter.LicenseSheet)
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal("Device ID", rows[0][0])
	s.Equal([]string{testDevice, testProduct, "demo3", "TRUE", "2025-03-04T09:00:00Z"}, rows[1][:5])
}

func (s *ServerTestSuite) TestExportCSV() {
	s.Require().NoError(s.client.UpsertLicense(s.ctx, testDevice, testProduct, authority.LicenseFields{
		Type: authority.TypePermanent, Active: true,
	}))

	hash, err := HashPassword(testPassword)
	s.Require().NoError(err)
	auth, err := NewAdminAuth("admin", hash, "jwt-secret", time.Hour)
	s.Require().NoError(err)
	token, _, err := auth.Login("admin", testPassword)
	s.Require().NoError(err)

	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/v1/admin/licenses.csv", nil)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Equal(exporter.FormatCSV.ContentType(), resp.Header.Get("Content-Type"))
	s.Contains(resp.Header.Get("Content-Disposition"), ".csv")

	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Contains(string(body), "Device ID,Product,Type,Active,Expires At,Last Seen")
	s.Contains(string(body), testDevice+","+testProduct+",permanent,true")
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
