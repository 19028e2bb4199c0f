package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore keeps trackers in process. Entries are stored encoded so
// callers never share a tracker with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	trackers map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trackers: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, senderID string) (*Tracker, error) {
	if strings.TrimSpace(senderID) == "" {
		return nil, ErrInvalidSender
	}

	s.mu.RLock()
	raw, ok := s.trackers[senderID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrTrackerNotFound
	}

	var t Tracker
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("unmarshal tracker: %w", err)
	}
	return &t, nil
}

func (s *MemoryStore) Save(_ context.Context, t *Tracker) error {
	if t == nil {
		return ErrNilTracker
	}
	if strings.TrimSpace(t.ID) == "" {
		return ErrInvalidSender
	}

	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal tracker: %w", err)
	}

	s.mu.Lock()
	s.trackers[t.ID] = raw
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, senderID string) error {
	if strings.TrimSpace(senderID) == "" {
		return ErrInvalidSender
	}
	s.mu.Lock()
	delete(s.trackers, senderID)
	s.mu.Unlock()
	return nil
}
