// Package session tracks live realtime connections. Conversation state
// itself lives in the memory store keyed by session id; a connection only
// carries the defaults a client chose when it connected.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

var (
	ErrNotFound    = errors.New("connection not found")
	ErrUnknownTurn = errors.New("turn not in flight")
)

type Connection struct {
	ID             string
	SessionID      string
	PersonaID      string
	VoiceID        string
	Status         Status
	// InFlightTurns counts turns started and not yet ended. Frames run
	// concurrently, so several turns can be in flight at once.
	InFlightTurns  int
	TurnCount      int
	StartedAt      time.Time
	LastActivityAt time.Time
}

type Manager struct {
	mu                sync.RWMutex
	conns             map[string]*Connection
	turns             map[string]map[string]struct{}
	inactivityTimeout time.Duration
	onExpire          func(*Connection)
	now               func() time.Time
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 10 * time.Minute
	}
	return &Manager{
		conns:             make(map[string]*Connection),
		turns:             make(map[string]map[string]struct{}),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// SetExpireHook registers a callback run (outside the lock) for every
// connection the janitor closes.
func (m *Manager) SetExpireHook(hook func(*Connection)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Open(sessionID, personaID, voiceID string) *Connection {
	now := m.now()
	c := &Connection{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		PersonaID:      personaID,
		VoiceID:        voiceID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[c.ID] = c
	return clone(c)
}

func (m *Manager) Get(id string) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(c), nil
}

func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return ErrNotFound
	}
	c.LastActivityAt = m.now()
	return nil
}

// StartTurn registers a turn in flight and returns its id.
func (m *Manager) StartTurn(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return "", ErrNotFound
	}
	turnID := uuid.NewString()
	set := m.turns[id]
	if set == nil {
		set = make(map[string]struct{})
		m.turns[id] = set
	}
	set[turnID] = struct{}{}
	c.InFlightTurns = len(set)
	c.LastActivityAt = m.now()
	return turnID, nil
}

// EndTurn finishes turnID. Ending a turn twice returns ErrUnknownTurn and
// leaves the counters alone.
func (m *Manager) EndTurn(id, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return ErrNotFound
	}
	set := m.turns[id]
	if _, inFlight := set[turnID]; !inFlight {
		return ErrUnknownTurn
	}
	delete(set, turnID)
	c.InFlightTurns = len(set)
	c.TurnCount++
	c.LastActivityAt = m.now()
	return nil
}

// Close removes the connection from the registry.
func (m *Manager) Close(id string) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.conns, id)
	delete(m.turns, id)
	c.Status = StatusClosed
	c.InFlightTurns = 0
	c.LastActivityAt = m.now()
	return clone(c), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// List returns open connections, oldest first.
func (m *Manager) List() []Summary {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c.Summary())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (m *Manager) expireInactive() {
	now := m.now()
	var expired []*Connection

	m.mu.Lock()
	for id, c := range m.conns {
		// Never cut a connection mid-turn.
		if c.InFlightTurns > 0 {
			continue
		}
		if now.Sub(c.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		c.Status = StatusClosed
		c.LastActivityAt = now
		expired = append(expired, clone(c))
		delete(m.conns, id)
		delete(m.turns, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, c := range expired {
			hook(c)
		}
	}
}

func clone(c *Connection) *Connection {
	cp := *c
	return &cp
}
