package config

import "time"

// Application constants
const (
	// Application Info
	AppName    = "Bodega POS"
	AppVersion = "1.0.0"

	DefaultProductID    = "bodega"
	DefaultDevicePrefix = "PDA"

	// Entitlement timings
	DemoDuration           = 72 * time.Hour
	HeartbeatInterval      = 4 * time.Hour
	StatusPollInterval     = 60 * time.Second
	IntegrityAuditInterval = 30 * time.Minute
	DemoCountdownInterval  = time.Minute

	// Unlock throttling
	UnlockBurst  = 5
	UnlockRefill = 30 * time.Second

	// Network Timeouts
	DefaultAuthorityTimeout = 10 * time.Second
	StreamReconnectMin      = 2 * time.Second
	StreamReconnectMax      = 2 * time.Minute

	// Log Settings
	DefaultLogLevel = "info"

	// API Endpoints
	APIBasePath         = "/api"
	EntitlementEndpoint = "/api/entitlement"
	HealthEndpoint      = "/api/health"
	MetricsEndpoint     = "/metrics"
)

// Persisted storage keys
const (
	KeyDeviceID          = "bodega.device_id"
	KeyEntitlement       = "bodega.entitlement"
	KeyDemoUsage         = "bodega.demo_usage"
	KeyEntitlementBackup = "bodega.entitlement_backup"
)

// User-facing notices
const (
	MsgTrialEnded      = "Your 72-hour trial has ended. Enter an activation code to keep using premium features."
	MsgLicenseDisabled = "This license was disabled by the administrator. Contact support to restore access."
)
