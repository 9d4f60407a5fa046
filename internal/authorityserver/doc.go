// Package authorityserver is the reference license authority: the REST and
// WebSocket service that authority.Client talks to, persisted in SQLite.
//
// Device routes (/v1/licenses, /v1/demos, /v1/heartbeats, /v1/stream) are
// guarded by the shared API key. Admin routes (/v1/admin/*) require a bearer
// token obtained from /v1/admin/login.
package authorityserver
