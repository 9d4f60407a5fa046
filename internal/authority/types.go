package authority

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LicenseType is "permanent" or "demoN"
type LicenseType string

const (
	TypePermanent LicenseType = "permanent"
	demoPrefix                = "demo"
)

// DemoType returns the time-limited type for a trial of days days
func DemoType(days int) LicenseType {
	return LicenseType(fmt.Sprintf("%s%d", demoPrefix, days))
}

// IsTimeLimited reports whether records of this type carry an expiry
func (t LicenseType) IsTimeLimited() bool {
	return strings.HasPrefix(string(t), demoPrefix)
}

// LicenseRecord is the authoritative entitlement for a device and product
type LicenseRecord struct {
	DeviceID   string      `json:"deviceId"`
	ProductID  string      `json:"productId"`
	Type       LicenseType `json:"type"`
	Active     bool        `json:"active"`
	ExpiresAt  *time.Time  `json:"expiresAt"`
	LastSeenAt *time.Time  `json:"lastSeenAt"`
}

// Usable reports whether the record grants access at now
func (r LicenseRecord) Usable(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.Type.IsTimeLimited() && r.ExpiresAt != nil {
		return now.Before(*r.ExpiresAt)
	}
	return true
}

// LicenseFields is the client-writable part of a LicenseRecord
type LicenseFields struct {
	Type      LicenseType `json:"type" validate:"required"`
	Active    bool        `json:"active"`
	ExpiresAt *time.Time  `json:"expiresAt"`
}

// DemoRecord marks a consumed trial. Its existence is what matters.
type DemoRecord struct {
	DeviceID   string    `json:"deviceId"`
	ProductID  string    `json:"productId"`
	ExpiresAt  time.Time `json:"expiresAt"`
	AppVersion string    `json:"appVersion,omitempty"`
}

// Heartbeat is one liveness report from a device
type Heartbeat struct {
	DeviceID   string    `json:"deviceId" validate:"required"`
	ProductID  string    `json:"productId" validate:"required"`
	AppVersion string    `json:"appVersion"`
	At         time.Time `json:"at"`
}

// ChangeEvent notifies a device that its record changed
type ChangeEvent struct {
	DeviceID  string      `json:"deviceId"`
	ProductID string      `json:"productId"`
	Active    bool        `json:"active"`
	Type      LicenseType `json:"type,omitempty"`
	At        time.Time   `json:"at"`
}

// Authority is the remote license authority. GetLicense and GetDemo return
// nil with no error when no record exists.
type Authority interface {
	GetLicense(ctx context.Context, deviceID, productID string) (*LicenseRecord, error)
	UpsertLicense(ctx context.Context, deviceID, productID string, fields LicenseFields) error
	TouchLastSeen(ctx context.Context, deviceID, productID string, at time.Time) error
	AppendHeartbeat(ctx context.Context, hb Heartbeat) error
	GetDemo(ctx context.Context, deviceID, productID string) (*DemoRecord, error)
	UpsertDemo(ctx context.Context, demo DemoRecord) error
	// Subscribe streams change events for deviceID until ctx is done, then
	// closes the channel.
	Subscribe(ctx context.Context, deviceID string) (<-chan ChangeEvent, error)
}

// Admin is implemented by backends that support administrative changes
type Admin interface {
	SetActive(ctx context.Context, deviceID, productID string, active bool) error
	ListLicenses(ctx context.Context) ([]LicenseRecord, error)
}
