package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps turns and profiles in process memory. It backs
// local/dev use and is the degraded substitute when no durable backend is
// reachable.
type InMemoryStore struct {
	mu       sync.RWMutex
	turns    map[string][]Turn
	profiles map[string]Profile
	now      func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns:    make(map[string][]Turn),
		profiles: make(map[string]Profile),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *InMemoryStore) AppendTurn(_ context.Context, turn Turn) error {
	t, err := normalizeTurn(turn, uuid.NewString, s.now())
	if err != nil {
		return storageErr("memory", "append turn", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	arr := s.turns[t.SessionID]
	arr = append(arr, t)
	// Keep slices ordered by timestamp; stable keeps insertion order on ties.
	if n := len(arr); n > 1 && arr[n-1].CreatedAt.Before(arr[n-2].CreatedAt) {
		sort.SliceStable(arr, func(i, j int) bool { return arr[i].CreatedAt.Before(arr[j].CreatedAt) })
	}
	s.turns[t.SessionID] = arr
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	limit = normalizeLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[sessionID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Turn, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) UpsertProfile(_ context.Context, profile Profile) error {
	if profile.SessionID == "" {
		return storageErr("memory", "upsert profile", ErrInvalidTurn)
	}
	profile.LastInteraction = s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.SessionID] = profile
	return nil
}

func (s *InMemoryStore) Profile(_ context.Context, sessionID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[sessionID]
	if !ok {
		return Profile{SessionID: sessionID}, nil
	}
	return p, nil
}

func (s *InMemoryStore) Close() error { return nil }
