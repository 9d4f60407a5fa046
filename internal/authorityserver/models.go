package authorityserver

import (
	"time"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
)

// LicenseRow is one authoritative license record
type LicenseRow struct {
	DeviceID   string `gorm:"primaryKey;size:64"`
	ProductID  string `gorm:"primaryKey;size:64"`
	Type       string `gorm:"size:32;not null"`
	Active     bool   `gorm:"not null"`
	ExpiresAt  *time.Time
	LastSeenAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (LicenseRow) TableName() string { return "licenses" }

func (r LicenseRow) record() authority.LicenseRecord {
	return authority.LicenseRecord{
		DeviceID:   r.DeviceID,
		ProductID:  r.ProductID,
		Type:       authority.LicenseType(r.Type),
		Active:     r.Active,
		ExpiresAt:  r.ExpiresAt,
		LastSeenAt: r.LastSeenAt,
	}
}

// DemoRow marks a consumed trial
type DemoRow struct {
	DeviceID   string    `gorm:"primaryKey;size:64"`
	ProductID  string    `gorm:"primaryKey;size:64"`
	ExpiresAt  time.Time `gorm:"not null"`
	AppVersion string    `gorm:"size:32"`
	CreatedAt  time.Time
}

func (DemoRow) TableName() string { return "demos" }

func (r DemoRow) record() authority.DemoRecord {
	return authority.DemoRecord{
		DeviceID:   r.DeviceID,
		ProductID:  r.ProductID,
		ExpiresAt:  r.ExpiresAt,
		AppVersion: r.AppVersion,
	}
}

// HeartbeatRow is an append-only liveness report
type HeartbeatRow struct {
	ID         string    `gorm:"primaryKey;size:36"`
	DeviceID   string    `gorm:"index;size:64;not null"`
	ProductID  string    `gorm:"size:64;not null"`
	AppVersion string    `gorm:"size:32"`
	At         time.Time `gorm:"index;not null"`
}

func (HeartbeatRow) TableName() string { return "heartbeats" }
