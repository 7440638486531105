// ABOUTME: KeyValueStore interface and shared types for tms-core persistence
// ABOUTME: Defines the string key/value contract used by the connectivity layer

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested key does not exist
var ErrNotFound = errors.New("not found")

// Well-known keys persisted by the enhanced connectivity layer.
const (
	KeyInstanceID           = "instance_id"
	KeySessionCurrentToken  = "session.current_token"
	KeySessionPreviousToken = "session.previous_token"
	KeyHeartbeatLastSuccess = "heartbeat.last_success"
)

// Op is a single write inside an Apply batch.
type Op struct {
	Key    string
	Value  string
	Delete bool // remove Key instead of writing Value
}

// Put returns an Op that upserts key to value.
func Put(key, value string) Op {
	return Op{Key: key, Value: value}
}

// Del returns an Op that removes key.
func Del(key string) Op {
	return Op{Key: key, Delete: true}
}

// KeyValueStore is a durable string-to-string mapping shared by every process
// of a deployment. It carries no business logic.
type KeyValueStore interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Upsert writes value under key, replacing any existing value.
	Upsert(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// CreateIfAbsent writes value only if key does not exist yet.
	// It reports whether this call created the row.
	CreateIfAbsent(ctx context.Context, key, value string) (bool, error)

	// CompareAndSwap replaces the value under key with newValue only if it
	// currently equals oldValue. It reports whether the row was replaced.
	CompareAndSwap(ctx context.Context, key, oldValue, newValue string) (bool, error)

	// Apply performs all ops as one unit: either every op is applied or none is.
	Apply(ctx context.Context, ops ...Op) error

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store
	Close() error
}
