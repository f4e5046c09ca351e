package store

import (
	"context"
	"sync"

	"github.com/vighneshvikky/vortexfit-rtc/internal/models"
)

// Memory is an in-process Store for tests and single-node development. It does
// not enforce SessionTTL; expiry only matters for the redis backend.
type Memory struct {
	mu           sync.RWMutex
	sessions     map[string]models.Session
	participants map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		sessions:     make(map[string]models.Session),
		participants: make(map[string]map[string]struct{}),
	}
}

func (m *Memory) CreateSession(_ context.Context, s models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.participants, id)
	return nil
}

func (m *Memory) AddParticipant(_ context.Context, sessionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.participants[sessionID]
	if !ok {
		set = make(map[string]struct{})
		m.participants[sessionID] = set
	}
	set[userID] = struct{}{}
	return nil
}

func (m *Memory) RemoveParticipant(_ context.Context, sessionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.participants[sessionID]; ok {
		delete(set, userID)
	}
	return nil
}

func (m *Memory) CountParticipants(_ context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.participants[sessionID]), nil
}
