package dialogue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memoryStore is the degraded-mode Store used when the session database
// cannot be opened. Same contract, process-lifetime durability only.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an in-memory Store. Useful as the degraded
// fallback and in tests.
func NewMemoryStore() Store {
	return &memoryStore{sessions: make(map[string]*Session)}
}

func (m *memoryStore) Save(ctx context.Context, session *Session) error {
	if err := validateSession(session); err != nil {
		return err
	}

	copied, err := copySession(session)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = copied
	return nil
}

func (m *memoryStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrInvalidSession)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return copySession(session)
}

func (m *memoryStore) ListActive(ctx context.Context, projectID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sessions []*Session
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if projectID != "" && s.ProjectID != projectID {
			continue
		}
		copied, err := copySession(s)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, copied)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	return sessions, nil
}

func (m *memoryStore) Complete(ctx context.Context, sessionID string, result json.RawMessage, finalConfidence float64) error {
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidSession)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	now := time.Now().UTC()
	session.Status = StatusCompleted
	session.Result = append(json.RawMessage(nil), result...)
	session.FinalConfidence = finalConfidence
	session.CompletedAt = &now
	session.UpdatedAt = now
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}

// copySession deep-copies via JSON so callers never share slices with
// the store's internal state.
func copySession(s *Session) (*Session, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var copied Session
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, err
	}
	return &copied, nil
}
