package authority

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
)

func TestLicenseType(t *testing.T) {
	assert.False(t, TypePermanent.IsTimeLimited())
	assert.True(t, DemoType(3).IsTimeLimited())
	assert.Equal(t, LicenseType("demo30"), DemoType(30))
}

func TestLicenseRecordUsable(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		rec  LicenseRecord
		want bool
	}{
		{"permanent active", LicenseRecord{Type: TypePermanent, Active: true}, true},
		{"permanent inactive", LicenseRecord{Type: TypePermanent}, false},
		{"demo running", LicenseRecord{Type: DemoType(3), Active: true, ExpiresAt: &future}, true},
		{"demo expired", LicenseRecord{Type: DemoType(3), Active: true, ExpiresAt: &past}, false},
		{"demo without expiry", LicenseRecord{Type: DemoType(3), Active: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.Usable(now))
		})
	}
}

func TestMemoryLicenses(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	rec, err := m.GetLicense(ctx, "PDA-7Q2K", "bodega")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, m.UpsertLicense(ctx, "PDA-7Q2K", "bodega", LicenseFields{Type: TypePermanent, Active: true}))
	seen := time.Now()
	require.NoError(t, m.TouchLastSeen(ctx, "PDA-7Q2K", "bodega", seen))

	rec, err = m.GetLicense(ctx, "PDA-7Q2K", "bodega")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Active)
	assert.Equal(t, TypePermanent, rec.Type)
	require.NotNil(t, rec.LastSeenAt)
	assert.True(t, rec.LastSeenAt.Equal(seen))

	other, err := m.GetLicense(ctx, "PDA-7Q2K", "other")
	require.NoError(t, err)
	assert.Nil(t, other)

	assert.Equal(t, 3, m.Calls("get_license"))
}

func TestMemoryDemoIsCreatedOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	first := time.Now().Add(72 * time.Hour)

	require.NoError(t, m.UpsertDemo(ctx, DemoRecord{DeviceID: "PDA-1", ProductID: "bodega", ExpiresAt: first}))
	require.NoError(t, m.UpsertDemo(ctx, DemoRecord{DeviceID: "PDA-1", ProductID: "bodega", ExpiresAt: first.Add(time.Hour)}))

	demo, err := m.GetDemo(ctx, "PDA-1", "bodega")
	require.NoError(t, err)
	require.NotNil(t, demo)
	assert.True(t, demo.ExpiresAt.Equal(first))
}

func TestMemoryOffline(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.SetOffline(true)

	_, err := m.GetLicense(ctx, "PDA-1", "bodega")
	assert.ErrorIs(t, err, apperrors.ErrNetworkUnavailable)
	assert.ErrorIs(t, m.AppendHeartbeat(ctx, Heartbeat{DeviceID: "PDA-1"}), apperrors.ErrNetworkUnavailable)

	m.SetOffline(false)
	_, err = m.GetLicense(ctx, "PDA-1", "bodega")
	assert.NoError(t, err)
}

func TestMemorySubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewMemory()
	m.Put(LicenseRecord{DeviceID: "PDA-1", ProductID: "bodega", Type: TypePermanent, Active: true})

	events, err := m.Subscribe(ctx, "PDA-1")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Subscribers("PDA-1"))

	require.NoError(t, m.SetActive(ctx, "PDA-1", "bodega", false))
	select {
	case ev := <-events:
		assert.Equal(t, "PDA-1", ev.DeviceID)
		assert.False(t, ev.Active)
	case <-time.After(time.Second):
		t.Fatal("expected change event")
	}

	assert.ErrorIs(t, m.SetActive(ctx, "PDA-404", "bodega", true), apperrors.ErrRecordNotFound)

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-events
		return !open
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, m.Subscribers("PDA-1"))
}
