// ABOUTME: Scheduler-facing heartbeat trigger that authenticates the caller by shared secret
// ABOUTME: Runs one heartbeat and reports the state plus the last recorded success

package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/tms-core/internal/auth"
	"github.com/2389/tms-core/internal/enhanced"
)

// ErrUnauthorized is returned when a cron secret is configured and the caller
// did not present it.
var ErrUnauthorized = errors.New("unauthorized")

// Heartbeater runs one heartbeat against the enhanced service.
type Heartbeater interface {
	Heartbeat(ctx context.Context) (enhanced.ConnectionState, error)
}

// LedgerReader reads the last successful heartbeat.
type LedgerReader interface {
	LastSuccess(ctx context.Context) (*time.Time, error)
}

// Result is what the scheduler sees after a trigger.
type Result struct {
	Connected                 bool       `json:"connected"`
	LastSuccessfulHeartbeatAt *time.Time `json:"lastSuccessfulHeartbeatAt"`
}

// Trigger authenticates scheduler calls and runs the heartbeat.
type Trigger struct {
	secret    string
	heartbeat Heartbeater
	ledger    LedgerReader
	logger    *slog.Logger
}

// New creates a Trigger. An empty secret accepts every caller.
func New(secret string, heartbeat Heartbeater, ledger LedgerReader, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{
		secret:    secret,
		heartbeat: heartbeat,
		ledger:    ledger,
		logger:    logger.With("component", "trigger"),
	}
}

// RequiresSecret reports whether callers must present the cron secret.
func (t *Trigger) RequiresSecret() bool {
	return t.secret != ""
}

// Invoke checks providedSecret, runs one heartbeat and reads the ledger. The
// ledger is read whatever the heartbeat outcome so a disconnected result
// still carries the last time it worked.
func (t *Trigger) Invoke(ctx context.Context, providedSecret string) (*Result, error) {
	if t.RequiresSecret() && !auth.SecretEqual(t.secret, providedSecret) {
		t.logger.Warn("heartbeat trigger rejected", "secret_present", providedSecret != "")
		return nil, ErrUnauthorized
	}

	state, err := t.heartbeat.Heartbeat(ctx)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}

	last, err := t.ledger.LastSuccess(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading heartbeat ledger: %w", err)
	}

	if state.Connected {
		t.logger.Debug("heartbeat trigger completed", "connected", true)
	} else {
		t.logger.Info("heartbeat trigger completed", "connected", false, "reason", state.Reason)
	}

	return &Result{Connected: state.Connected, LastSuccessfulHeartbeatAt: last}, nil
}
