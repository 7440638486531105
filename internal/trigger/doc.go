// Package trigger is the entry point an external scheduler calls to keep the
// enhanced session alive.
//
// A Trigger holds the optional cron secret. When set, Invoke compares the
// caller's secret in constant time and returns ErrUnauthorized on mismatch
// without touching the network or the store. Otherwise it runs
// enhanced.Client.Heartbeat and reports the resulting connection state
// together with the ledger's last success time.
//
// Only persistence failures come back as errors; an unreachable service is a
// Result with Connected=false.
package trigger
