// Package membership persists which groups a user belongs to and keeps
// the live routing table in step with that record.
package membership

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrInvalidID is returned for non-positive user or group ids.
var ErrInvalidID = errors.New("membership: ids must be positive")

// Store is the durable side of group membership.
type Store interface {
	Groups(ctx context.Context, userID int64) ([]int64, error)
	Join(ctx context.Context, userID, groupID int64) error
	Leave(ctx context.Context, userID, groupID int64) error
}

func validIDs(userID, groupID int64) error {
	if userID <= 0 || groupID <= 0 {
		return ErrInvalidID
	}
	return nil
}

// MemoryStore keeps memberships in process. Used when no backing store
// is configured and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	groups map[int64]map[int64]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{groups: make(map[int64]map[int64]struct{})}
}

func (m *MemoryStore) Groups(_ context.Context, userID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.groups[userID]
	if len(set) == 0 {
		return nil, nil
	}
	out := make([]int64, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	slices.Sort(out)
	return out, nil
}

func (m *MemoryStore) Join(_ context.Context, userID, groupID int64) error {
	if err := validIDs(userID, groupID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.groups[userID]
	if !ok {
		set = make(map[int64]struct{})
		m.groups[userID] = set
	}
	set[groupID] = struct{}{}
	return nil
}

func (m *MemoryStore) Leave(_ context.Context, userID, groupID int64) error {
	if err := validIDs(userID, groupID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if set, ok := m.groups[userID]; ok {
		delete(set, groupID)
		if len(set) == 0 {
			delete(m.groups, userID)
		}
	}
	return nil
}
