package entitlement

import (
	"fmt"
	"time"
)

// State is the engine's position in the entitlement state machine
type State int

const (
	StateUnverified State = iota
	StateChecking
	StateLocked
	StateDemoActive
	StatePremiumActive
)

func (s State) String() string {
	switch s {
	case StateUnverified:
		return "UNVERIFIED"
	case StateChecking:
		return "CHECKING"
	case StateLocked:
		return "LOCKED"
	case StateDemoActive:
		return "DEMO_ACTIVE"
	case StatePremiumActive:
		return "PREMIUM_ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Active reports whether premium features are unlocked
func (s State) Active() bool {
	return s == StateDemoActive || s == StatePremiumActive
}

// Status values returned by UnlockApp and ActivateDemo
const (
	StatusPremiumActivated = "PREMIUM_ACTIVATED"
	StatusInvalidCode      = "INVALID_CODE"
	StatusDemoActivated    = "DEMO_ACTIVATED"
	StatusDemoUsed         = "DEMO_USED"
	StatusAlreadyPremium   = "ALREADY_PREMIUM"
)

// Result is the outcome of a user-initiated unlock
type Result struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// Snapshot is the read-only view collaborators gate features on
type Snapshot struct {
	State          string `json:"state"`
	DeviceID       string `json:"deviceId"`
	IsPremium      bool   `json:"isPremium"`
	IsDemo         bool   `json:"isDemo"`
	Loading        bool   `json:"loading"`
	DemoUsed       bool   `json:"demoUsed"`
	DemoTimeLeft   string `json:"demoTimeLeft"`
	DemoExpiredMsg string `json:"demoExpiredMsg"`
	Notice         string `json:"notice"`
}

// formatTimeLeft renders d as "3d 0h" above a day and "5h 12m" below
func formatTimeLeft(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	if d >= 24*time.Hour {
		days := int(d / (24 * time.Hour))
		hours := int((d % (24 * time.Hour)) / time.Hour)
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// demoFlag is the local mirror of the remote demo record
type demoFlag struct {
	Used      bool   `json:"used"`
	Timestamp int64  `json:"timestamp"`
	DeviceID  string `json:"deviceId"`
}
