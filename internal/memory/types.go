package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/companion/internal/emotion"
)

// DefaultRecentLimit is the number of turns RecentTurns returns when the
// caller passes a non-positive limit.
const DefaultRecentLimit = 20

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message in a session. Turns are immutable once
// appended.
type Turn struct {
	ID          string        `json:"id"`
	SessionID   string        `json:"session_id"`
	Role        Role          `json:"role"`
	Content     string        `json:"content"`
	Emotion     emotion.Label `json:"emotion,omitempty"`
	PIIRedacted bool          `json:"pii_redacted"`
	CreatedAt   time.Time     `json:"timestamp"`
}

// Profile holds durable facts about the user of a session. Writes replace
// the whole record.
type Profile struct {
	SessionID       string    `json:"session_id"`
	Name            string    `json:"name,omitempty"`
	Preferences     string    `json:"preferences,omitempty"`
	ContextData     string    `json:"context_data,omitempty"`
	LastInteraction time.Time `json:"last_interaction,omitempty"`
}

// Empty reports whether no profile fields are set.
func (p Profile) Empty() bool {
	return p.Name == "" && p.Preferences == "" && p.ContextData == "" && p.LastInteraction.IsZero()
}

// Store persists conversation turns and per-session profiles.
// Implementations must be safe for concurrent use.
type Store interface {
	AppendTurn(ctx context.Context, turn Turn) error
	// RecentTurns returns up to limit of the newest turns, oldest first.
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
	UpsertProfile(ctx context.Context, profile Profile) error
	// Profile returns an empty profile for unknown sessions.
	Profile(ctx context.Context, sessionID string) (Profile, error)
	Close() error
}

// ErrStorage is matched by every StorageError.
var ErrStorage = errors.New("storage error")

// ErrInvalidTurn rejects turns missing a session, role or content.
var ErrInvalidTurn = errors.New("invalid turn")

// StorageError reports a failed store operation.
type StorageError struct {
	Op      string
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Backend: backend, Err: err}
}

// normalizeTurn validates a turn and fills its id and timestamp.
func normalizeTurn(t Turn, newID func() string, now time.Time) (Turn, error) {
	if t.SessionID == "" {
		return Turn{}, fmt.Errorf("%w: missing session_id", ErrInvalidTurn)
	}
	if t.Role != RoleUser && t.Role != RoleAssistant {
		return Turn{}, fmt.Errorf("%w: role %q", ErrInvalidTurn, t.Role)
	}
	if t.Content == "" {
		return Turn{}, fmt.Errorf("%w: empty content", ErrInvalidTurn)
	}
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	return t, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return limit
}

func labelOf(raw string) emotion.Label {
	if l, ok := emotion.Parse(raw); ok {
		return l
	}
	return ""
}
