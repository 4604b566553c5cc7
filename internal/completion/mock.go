package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MockBackend provides deterministic local replies when no model is
// configured. It answers with the last input line of the prompt.
type MockBackend struct {
	name string
}

func NewMockBackend(name string) *MockBackend {
	if strings.TrimSpace(name) == "" {
		name = "mock"
	}
	return &MockBackend{name: name}
}

func (b *MockBackend) Name() string { return b.name }

func (b *MockBackend) Complete(ctx context.Context, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	return fmt.Sprintf("I heard you: %s", lastInput(prompt)), nil
}

// lastInput picks the current-input line out of a rendered prompt.
func lastInput(prompt string) string {
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		_, value, ok := strings.Cut(lines[i], ": ")
		if ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return "I am listening."
}

// Unavailable is a backend that always fails. It stands in for a backend
// whose configuration is missing so the gateway still has a slot to try.
type Unavailable struct {
	name   string
	reason string
}

var ErrBackendUnavailable = errors.New("backend unavailable")

func NewUnavailable(name, reason string) *Unavailable {
	if strings.TrimSpace(name) == "" {
		name = "unavailable"
	}
	return &Unavailable{name: name, reason: reason}
}

func (b *Unavailable) Name() string { return b.name }

func (b *Unavailable) Complete(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: %s", ErrBackendUnavailable, b.reason)
}

// Func adapts a function to Backend.
type Func struct {
	ID string
	Fn func(ctx context.Context, prompt string) (string, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Complete(ctx context.Context, prompt string) (string, error) {
	return f.Fn(ctx, prompt)
}
