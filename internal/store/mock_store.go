// ABOUTME: Mock KeyValueStore implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject storage failures

package store

import (
	"context"
	"sync"
)

// MockStore is an in-memory KeyValueStore implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	values map[string]string

	// Err, when set, is returned by every operation to simulate an
	// unavailable store.
	Err error

	// Writes counts successful mutating calls. CreateIfAbsent and
	// CompareAndSwap count only when they changed a row.
	Writes int
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		values: make(map[string]string),
	}
}

// Get retrieves the value stored under key.
func (m *MockStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return "", m.Err
	}

	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Upsert writes value under key.
func (m *MockStore) Upsert(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	m.values[key] = value
	m.Writes++
	return nil
}

// Delete removes key.
func (m *MockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	delete(m.values, key)
	m.Writes++
	return nil
}

// CreateIfAbsent writes value only if key is missing.
func (m *MockStore) CreateIfAbsent(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return false, m.Err
	}

	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value
	m.Writes++
	return true, nil
}

// CompareAndSwap replaces key only while it holds oldValue.
func (m *MockStore) CompareAndSwap(ctx context.Context, key, oldValue, newValue string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return false, m.Err
	}

	if v, ok := m.values[key]; !ok || v != oldValue {
		return false, nil
	}
	m.values[key] = newValue
	m.Writes++
	return true, nil
}

// Apply performs every op under a single lock.
func (m *MockStore) Apply(ctx context.Context, ops ...Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	for _, op := range ops {
		if op.Delete {
			delete(m.values, op.Key)
			continue
		}
		m.values[op.Key] = op.Value
	}
	m.Writes++
	return nil
}

// Ping reports the injected error, if any.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Err
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements KeyValueStore.
var _ KeyValueStore = (*MockStore)(nil)
