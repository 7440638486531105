// Package auth guards the HTTP surface of tms-core.
//
// # Dashboard Sessions
//
// The dashboard's own login system issues HS256 JWTs signed with the shared
// auth.jwt_secret. HTTPAuthMiddleware verifies the bearer token and stores a
// Session (user id from "sub", display name from "name") in the request
// context:
//
//	mw := HTTPAuthMiddleware(verifier, logger)
//	session := FromContext(r.Context())
//
// A nil verifier disables the check. The server does this when no secret is
// configured and logs a warning at startup.
//
// # Scheduler Secret
//
// The heartbeat trigger is called by an external scheduler, not a user. It
// authenticates with a shared secret compared by SecretEqual.
package auth
