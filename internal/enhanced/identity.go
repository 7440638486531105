// ABOUTME: Instance identity resolution with operator override and lazy persistence
// ABOUTME: Uses create-if-absent plus reread so racing processes agree on one id

package enhanced

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/2389/tms-core/internal/store"
)

// Identity resolves the durable identifier of this deployment.
type Identity struct {
	kv       store.KeyValueStore
	override string
	newID    func() (string, error)
	logger   *slog.Logger
}

// NewIdentity creates an Identity. A non-empty override always wins and is
// never written to the store.
func NewIdentity(kv store.KeyValueStore, override string) *Identity {
	return &Identity{
		kv:       kv,
		override: override,
		newID:    newInstanceID,
		logger:   slog.Default().With("component", "enhanced.identity"),
	}
}

// newInstanceID generates a time-ordered UUID (v7).
func newInstanceID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating instance id: %w", err)
	}
	return id.String(), nil
}

// Resolve returns the instance id. Store failures are returned wrapped in
// ErrPersistence; an id is never fabricated without being persisted.
func (i *Identity) Resolve(ctx context.Context) (string, error) {
	if i.override != "" {
		return i.override, nil
	}

	scope := ScopeFromContext(ctx)
	if id, ok := scope.cachedInstanceID(); ok {
		return id, nil
	}

	id, err := i.resolveFromStore(ctx)
	if err != nil {
		return "", err
	}

	scope.rememberInstanceID(id)
	return id, nil
}

func (i *Identity) resolveFromStore(ctx context.Context) (string, error) {
	existing, err := i.kv.Get(ctx, store.KeyInstanceID)
	switch {
	case err == nil && existing != "":
		return existing, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("%w: reading instance id: %w", ErrPersistence, err)
	}

	generated, err := i.newID()
	if err != nil {
		return "", err
	}

	created, err := i.kv.CreateIfAbsent(ctx, store.KeyInstanceID, generated)
	if err != nil {
		return "", fmt.Errorf("%w: creating instance id: %w", ErrPersistence, err)
	}

	// Reread: when another process won the insert its value is authoritative.
	persisted, err := i.kv.Get(ctx, store.KeyInstanceID)
	if err != nil {
		return "", fmt.Errorf("%w: rereading instance id: %w", ErrPersistence, err)
	}

	if persisted == "" {
		return i.repairBlank(ctx, generated)
	}

	if created {
		i.logger.Info("created instance id", "instance_id", persisted)
	} else {
		i.logger.Debug("instance id created concurrently, using persisted value")
	}
	return persisted, nil
}

// repairBlank replaces a blank persisted id. The swap only succeeds while the
// row is still blank, and the reread returns whichever repair won.
func (i *Identity) repairBlank(ctx context.Context, generated string) (string, error) {
	swapped, err := i.kv.CompareAndSwap(ctx, store.KeyInstanceID, "", generated)
	if err != nil {
		return "", fmt.Errorf("%w: repairing instance id: %w", ErrPersistence, err)
	}

	persisted, err := i.kv.Get(ctx, store.KeyInstanceID)
	if err != nil {
		return "", fmt.Errorf("%w: rereading repaired instance id: %w", ErrPersistence, err)
	}
	if persisted == "" {
		return "", fmt.Errorf("%w: instance id still empty after repair", ErrPersistence)
	}

	if swapped {
		i.logger.Warn("persisted instance id was empty, replaced it", "instance_id", persisted)
	} else {
		i.logger.Debug("blank instance id repaired concurrently, using persisted value")
	}
	return persisted, nil
}
