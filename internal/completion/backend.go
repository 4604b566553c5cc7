// Package completion turns a rendered prompt into reply text. A Gateway
// tries a primary backend and, on any failure, a secondary backend once.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Backend produces a completion for a prompt.
type Backend interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// ErrCompletion is matched by every CompletionError.
var ErrCompletion = errors.New("completion failed")

// ErrEmptyCompletion marks a backend that answered with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// CompletionError reports that both backends failed.
type CompletionError struct {
	Primary   error
	Secondary error
}

func (e *CompletionError) Error() string {
	if e.Secondary == nil {
		return fmt.Sprintf("primary backend error: %v", e.Primary)
	}
	return fmt.Sprintf("primary backend error: %v; fallback backend error: %v", e.Primary, e.Secondary)
}

func (e *CompletionError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Primary != nil {
		out = append(out, e.Primary)
	}
	if e.Secondary != nil {
		out = append(out, e.Secondary)
	}
	return out
}

func (e *CompletionError) Is(target error) bool { return target == ErrCompletion }

// Config controls backend construction for one slot (primary or fallback).
type Config struct {
	Mode        string
	Model       string
	APIKey      string
	HTTPURL     string
	HTTPStrict  bool
	HTTPTimeout time.Duration
}

// NewBackend builds the backend for mode. A gemini backend without an API
// key is returned as Unavailable together with a configuration error so the
// caller can log it and keep serving.
func NewBackend(ctx context.Context, cfg Config) (Backend, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "gemini"
	}

	switch mode {
	case "gemini":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return NewUnavailable(cfg.Model, "gemini api key is not configured"),
				errors.New("gemini api key is required for gemini mode")
		}
		b, err := NewGeminiBackend(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return NewUnavailable(cfg.Model, err.Error()), err
		}
		return b, nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return NewUnavailable("http", "completion http url is not configured"),
				errors.New("completion HTTP url is required for http mode")
		}
		return NewHTTPBackend(cfg.HTTPURL, HTTPOptions{Strict: cfg.HTTPStrict, Timeout: cfg.HTTPTimeout, Model: cfg.Model}), nil
	case "mock":
		return NewMockBackend(cfg.Model), nil
	case "fail":
		return NewUnavailable(cfg.Model, "backend disabled"), nil
	default:
		return nil, fmt.Errorf("unsupported completion mode %q", cfg.Mode)
	}
}
