// ABOUTME: Two-slot rotating session token pair stored in the key/value store
// ABOUTME: Rotation writes previous and current as one batch

package enhanced

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/tms-core/internal/store"
)

// TokenPair is the current/previous session credential pair. A nil slot means
// no value is stored.
type TokenPair struct {
	Current  *string `json:"current"`
	Previous *string `json:"previous"`
}

// TokenStore manages the rotating session token pair.
type TokenStore struct {
	kv store.KeyValueStore
}

// NewTokenStore creates a TokenStore on top of kv.
func NewTokenStore(kv store.KeyValueStore) *TokenStore {
	return &TokenStore{kv: kv}
}

// Read returns the stored pair.
func (t *TokenStore) Read(ctx context.Context) (TokenPair, error) {
	current, err := t.lookup(ctx, store.KeySessionCurrentToken)
	if err != nil {
		return TokenPair{}, err
	}
	previous, err := t.lookup(ctx, store.KeySessionPreviousToken)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Current: current, Previous: previous}, nil
}

func (t *TokenStore) lookup(ctx context.Context, key string) (*string, error) {
	v, err := t.kv.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrPersistence, key, err)
	}
	return &v, nil
}

// Rotate moves the current token into the previous slot and stores newToken
// as current. When there was no current token the previous slot is cleared.
func (t *TokenStore) Rotate(ctx context.Context, newToken string) error {
	if newToken == "" {
		return errors.New("enhanced: refusing to rotate to an empty session token")
	}

	pair, err := t.Read(ctx)
	if err != nil {
		return err
	}

	prevOp := store.Del(store.KeySessionPreviousToken)
	if pair.Current != nil {
		prevOp = store.Put(store.KeySessionPreviousToken, *pair.Current)
	}

	if err := t.kv.Apply(ctx, prevOp, store.Put(store.KeySessionCurrentToken, newToken)); err != nil {
		return fmt.Errorf("%w: rotating session token: %w", ErrPersistence, err)
	}
	return nil
}

// ClearPrevious drops the previous token, closing the replay window. No
// connectivity flow calls it; it exists for maintenance.
func (t *TokenStore) ClearPrevious(ctx context.Context) error {
	if err := t.kv.Delete(ctx, store.KeySessionPreviousToken); err != nil {
		return fmt.Errorf("%w: clearing previous token: %w", ErrPersistence, err)
	}
	return nil
}
