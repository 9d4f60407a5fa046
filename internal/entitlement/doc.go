// Package entitlement decides whether premium features are unlocked on this
// device.
//
// Engine owns the entitlement state machine:
//
//	UNVERIFIED -> CHECKING -> LOCKED | DEMO_ACTIVE | PREMIUM_ACTIVE
//
// Active states fall back to LOCKED on revocation, expiry or tampering, and
// LOCKED moves forward on code unlock, demo activation or remote restoration.
//
// While active, a monitor heartbeats the authority, polls the record's active
// flag and listens on the push stream. An integrity auditor re-validates the
// stored token on its own interval for as long as the engine runs. All
// background work is cancelled together and joined by Close.
//
// Remote calls are best effort. Network failures are logged and absorbed so
// the engine always progresses on local state alone.
package entitlement
