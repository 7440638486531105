// ABOUTME: Heartbeat ledger recording the time of the last successful heartbeat
// ABOUTME: Malformed stored timestamps read back as unknown rather than failing

package enhanced

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/tms-core/internal/store"
)

// Ledger persists the last successful heartbeat time.
type Ledger struct {
	kv     store.KeyValueStore
	logger *slog.Logger
}

// NewLedger creates a Ledger on top of kv.
func NewLedger(kv store.KeyValueStore) *Ledger {
	return &Ledger{
		kv:     kv,
		logger: slog.Default().With("component", "enhanced.ledger"),
	}
}

// MarkSuccess records at as the last successful heartbeat.
func (l *Ledger) MarkSuccess(ctx context.Context, at time.Time) error {
	if err := l.kv.Upsert(ctx, store.KeyHeartbeatLastSuccess, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("%w: recording heartbeat: %w", ErrPersistence, err)
	}
	return nil
}

// LastSuccess returns the last successful heartbeat, or nil when none was
// recorded or the stored value does not parse.
func (l *Ledger) LastSuccess(ctx context.Context) (*time.Time, error) {
	raw, err := l.kv.Get(ctx, store.KeyHeartbeatLastSuccess)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading heartbeat: %w", ErrPersistence, err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		l.logger.Warn("failed to parse last heartbeat timestamp", "value", raw, "error", err)
		return nil, nil
	}
	return &parsed, nil
}
