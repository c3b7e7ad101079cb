package services

import (
	"context"
	"sync"
)

// MockCache is an in-memory implementation of Cache for testing
type MockCache struct {
	PingFunc func(ctx context.Context) error

	Last   *StoredCompletion
	Active ActiveSession

	// Track calls for testing
	PingCalls int
	SaveCalls []StoredCompletion

	mu sync.Mutex
}

var _ Cache = (*MockCache)(nil)

// NewMockCache creates a new mock cache
func NewMockCache() *MockCache {
	return &MockCache{}
}

// SetPingError makes every Ping fail with err
func (m *MockCache) SetPingError(err error) {
	m.PingFunc = func(ctx context.Context) error { return err }
}

// SetPingSuccess restores the default Ping behavior
func (m *MockCache) SetPingSuccess() {
	m.PingFunc = nil
}

func (m *MockCache) Ping(ctx context.Context) error {
	m.mu.Lock()
	m.PingCalls++
	fn := m.PingFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return nil
}

func (m *MockCache) Close() error { return nil }

func (m *MockCache) WaitForConnection(ctx context.Context) error {
	return m.Ping(ctx)
}

func (m *MockCache) SaveLastCompletion(ctx context.Context, c StoredCompletion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls = append(m.SaveCalls, c)
	m.Last = &c
	return nil
}

func (m *MockCache) LastCompletion(ctx context.Context) (*StoredCompletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Last == nil {
		return nil, nil
	}
	c := *m.Last
	return &c, nil
}

func (m *MockCache) SetActiveSession(ctx context.Context, sessionID string) (ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sessionID == "" {
		m.Active = ActiveSession{}
		return m.Active, nil
	}
	ts := "2025-01-01T00:00:00.000Z"
	m.Active = ActiveSession{Active: true, SessionID: &sessionID, UpdatedAt: &ts}
	return m.Active, nil
}

func (m *MockCache) ActiveSession(ctx context.Context) (ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Active, nil
}
