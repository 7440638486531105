// Package server is the HTTP surface of tms-core.
//
// # Architecture
//
// New opens the SQLite store and wires the enhanced client, the heartbeat
// trigger and the dashboard session verifier into a chi router:
//
//	POST /heartbeat-trigger      scheduler entry point (x-cron-secret)
//	GET  /api/enhanced/status    license and connection status
//	POST /api/enhanced/activate  submit a license key
//	POST /api/enhanced/config    push AI provider settings
//	GET  /health                 liveness
//	GET  /health/ready           store reachability
//
// The /api/enhanced routes require a dashboard bearer token when
// auth.jwt_secret is set.
//
// # Middleware
//
// Every request passes through chi's RequestID, RealIP and Recoverer, an
// httplog access log and a fresh enhanced.WithScope so the instance id is
// read from the store at most once per request.
//
// # Errors
//
// Remote failures are part of the normal response body
// ({"connected":false,"reason":"unreachable"}). Only store failures become
// 500 {"error":"internal error"}; the cause is logged, not returned.
//
// # Listeners
//
// The server listens on server.http_addr, or joins a tailnet with tsnet when
// tailscale.enabled is set (port 80, or 443 with tailnet certificates when
// tailscale.https is set).
package server
