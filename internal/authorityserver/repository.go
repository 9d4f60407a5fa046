package authorityserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
	apperrors "github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/errors"
)

// Repository persists licenses, demos and heartbeats with gorm
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

// OpenRepository opens the SQLite database at dsn and migrates its tables
func OpenRepository(dsn string, log *slog.Logger) (*Repository, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open authority database %s: %w", dsn, err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&LicenseRow{}, &DemoRow{}, &HeartbeatRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate authority tables: %w", err)
	}

	return &Repository{
		db:     db,
		logger: log.With(slog.String("component", "authority_repository")),
	}, nil
}

// Close releases the database handle
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repository) GetLicense(ctx context.Context, deviceID, productID string) (*authority.LicenseRecord, error) {
	var row LicenseRow
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND product_id = ?", deviceID, productID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load license: %w", err)
	}
	rec := row.record()
	return &rec, nil
}

func (r *Repository) UpsertLicense(ctx context.Context, deviceID, productID string, fields authority.LicenseFields) error {
	row := LicenseRow{
		DeviceID:  deviceID,
		ProductID: productID,
		Type:      string(fields.Type),
		Active:    fields.Active,
		ExpiresAt: fields.ExpiresAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "active", "expires_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert license: %w", err)
	}
	return nil
}

// TouchLastSeen returns ErrRecordNotFound when the device has no license
func (r *Repository) TouchLastSeen(ctx context.Context, deviceID, productID string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&LicenseRow{}).
		Where("device_id = ? AND product_id = ?", deviceID, productID).
		Update("last_seen_at", at)
	if res.Error != nil {
		return fmt.Errorf("failed to touch license: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrRecordNotFound
	}
	return nil
}

func (r *Repository) AppendHeartbeat(ctx context.Context, hb authority.Heartbeat) error {
	row := HeartbeatRow{
		ID:         uuid.New().String(),
		DeviceID:   hb.DeviceID,
		ProductID:  hb.ProductID,
		AppVersion: hb.AppVersion,
		At:         hb.At,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append heartbeat: %w", err)
	}
	return nil
}

// Heartbeats returns the most recent heartbeats for deviceID, newest first
func (r *Repository) Heartbeats(ctx context.Context, deviceID string, limit int) ([]authority.Heartbeat, error) {
	var rows []HeartbeatRow
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list heartbeats: %w", err)
	}

	out := make([]authority.Heartbeat, 0, len(rows))
	for _, row := range rows {
		out = append(out, authority.Heartbeat{
			DeviceID: row.DeviceID, ProductID: row.ProductID, AppVersion: row.AppVersion, At: row.At,
		})
	}
	return out, nil
}

func (r *Repository) GetDemo(ctx context.Context, deviceID, productID string) (*authority.DemoRecord, error) {
	var row DemoRow
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND product_id = ?", deviceID, productID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load demo: %w", err)
	}
	rec := row.record()
	return &rec, nil
}

// UpsertDemo keeps the first registration of a device's trial
func (r *Repository) UpsertDemo(ctx context.Context, demo authority.DemoRecord) error {
	row := DemoRow{
		DeviceID:   demo.DeviceID,
		ProductID:  demo.ProductID,
		ExpiresAt:  demo.ExpiresAt,
		AppVersion: demo.AppVersion,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to register demo: %w", err)
	}
	return nil
}

// SetActive flips the active flag and returns the updated record
func (r *Repository) SetActive(ctx context.Context, deviceID, productID string, active bool) (*authority.LicenseRecord, error) {
	res := r.db.WithContext(ctx).Model(&LicenseRow{}).
		Where("device_id = ? AND product_id = ?", deviceID, productID).
		Update("active", active)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update license: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.ErrRecordNotFound
	}
	return r.GetLicense(ctx, deviceID, productID)
}

func (r *Repository) ListLicenses(ctx context.Context) ([]authority.LicenseRecord, error) {
	var rows []LicenseRow
	if err := r.db.WithContext(ctx).Order("device_id, product_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list licenses: %w", err)
	}

	out := make([]authority.LicenseRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}
