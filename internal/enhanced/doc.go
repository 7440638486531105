// Package enhanced implements the connectivity layer between a self-hosted
// core instance and the optional external enhanced service.
//
// # Components
//
//   - Identity: resolves the deployment's instance id (explicit override, or
//     created once in the store)
//   - TokenStore: current/previous session token pair with rotation
//   - Ledger: timestamp of the last successful heartbeat
//   - Client: the four remote operations (Status, Activate, SaveConfig,
//     Heartbeat)
//
// # Failure Model
//
// The Client never returns remote failures as errors. A missing service URL
// yields Disconnected(ReasonNotConfigured) without any network I/O; every
// other failure (network error, timeout, non-2xx status, malformed envelope,
// missing field) yields Disconnected(ReasonUnreachable). The only error the
// package returns wraps ErrPersistence, meaning the key/value store itself
// failed.
//
// # Headers
//
// Every call carries content-type, x-core-instance-id and, when configured,
// x-core-secret. Heartbeat additionally carries x-tms-session-token when a
// current token exists.
//
// # Scopes
//
// WithScope attaches a per-call memo to a context so one request resolves the
// instance id at most once. Nothing is cached across requests.
package enhanced
