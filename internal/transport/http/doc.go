// Package http implements the HTTP handlers the POS front end talks to.
//
// Handlers stay thin: they bind the request, call a service from
// internal/services and render the result with go-chi/render.
//
//	GET  /api/entitlement                    current snapshot
//	POST /api/entitlement/unlock             {"code": "ACTIV-XXXX-XXXX"}
//	POST /api/entitlement/demo               start the single-use trial
//	POST /api/entitlement/dismiss            clear trial-ended and disabled notices
//	POST /api/entitlement/resume             app regained focus
//	POST /api/entitlement/deactivate         explicit logout
//	GET  /api/entitlement/codes/{deviceID}   operator code generation
//	GET  /api/health                         health with authority reachability
//	GET  /api/health/ready                   503 until the first check settles
//	GET  /api/health/live                    process liveness
//	GET  /api/version                        build information
//	POST /api/logs                           front end log forwarding
//	GET  /api/premium/*                      gated by middleware.EntitlementGate
//
// The codes route requires the X-Operator-Key header.
//
// # Error Handling
//
// Rejected attempts are RFC 7807 problems. The status_code extension carries
// the engine status and the entitlement extension the unchanged snapshot:
//
//	{
//	    "type": "/errors/entitlement/invalid-code",
//	    "title": "Invalid Activation Code",
//	    "status": 422,
//	    "status_code": "INVALID_CODE",
//	    "instance": "/api/entitlement/unlock"
//	}
package http
