// Package store provides persistent key/value storage for tms-core using SQLite.
//
// # Architecture
//
// The connectivity layer only needs a generic string-key/string-value table,
// so the package exposes a single interface:
//
//   - KeyValueStore: Get, Upsert, Delete, CreateIfAbsent, Apply, Ping
//
// SQLiteStore implements it against a kv_store table; MockStore is an
// in-memory twin for unit tests.
//
// # Keys
//
// The enhanced connectivity layer persists:
//
//   - instance_id: the deployment's stable identifier
//   - session.current_token / session.previous_token: rotating session pair
//   - heartbeat.last_success: RFC 3339 timestamp of the last good heartbeat
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode and a busy timeout so several processes
// can share one database file:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Database file locations:
//
//   - Production: /var/lib/tms-core/core.db
//   - Development: ~/.local/share/tms/core.db
//   - Testing: a file under t.TempDir()
//
// # Concurrency
//
// CreateIfAbsent relies on the primary key of kv_store (INSERT ... ON CONFLICT
// DO NOTHING), so two processes racing to create the same key never both win.
// Apply runs its ops inside one transaction.
//
// # Error Handling
//
// Get returns ErrNotFound for a missing key. All other errors are storage
// failures wrapped with context.
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests; set MockStore.Err to simulate an
// unavailable database.
package store
