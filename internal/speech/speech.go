// Package speech bridges the conversation engine to text-to-speech and
// speech-to-text providers.
package speech

import (
	"context"
	"errors"
	"fmt"
)

// AudioRef points at synthesized audio. Providers either host the file (URL)
// or return the bytes inline (Data).
type AudioRef struct {
	URL    string
	Data   []byte
	Format string
}

// Empty reports whether no audio was produced.
func (a AudioRef) Empty() bool {
	return a.URL == "" && len(a.Data) == 0
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (AudioRef, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

type Kind string

const (
	KindSynthesis     Kind = "synthesis"
	KindTranscription Kind = "transcription"
	KindUnavailable   Kind = "unavailable"
)

var (
	// ErrUnavailable marks a capability disabled by missing configuration.
	ErrUnavailable = errors.New("speech capability unavailable")
	// ErrTranscriptionTimeout is returned when a transcript never completed
	// within the poll budget.
	ErrTranscriptionTimeout = errors.New("transcription timed out")
	// ErrNoVoice is returned when no voice id was given and none could be
	// discovered.
	ErrNoVoice = errors.New("no voice available")
)

// Error is a provider failure.
type Error struct {
	Kind      Kind
	Provider  string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) RetryableError() bool { return e.Retryable }

func synthesisErr(provider string, err error, retryable bool) error {
	return &Error{Kind: KindSynthesis, Provider: provider, Retryable: retryable, Err: err}
}

func transcriptionErr(provider string, err error, retryable bool) error {
	return &Error{Kind: KindTranscription, Provider: provider, Retryable: retryable, Err: err}
}

// KindOf returns the kind of a speech error, or "" for other errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// ProviderOf returns the provider of a speech error, or "unknown".
func ProviderOf(err error) string {
	var se *Error
	if errors.As(err, &se) && se.Provider != "" {
		return se.Provider
	}
	return "unknown"
}

// Disabled is a Synthesizer and Transcriber whose provider is not configured.
type Disabled struct {
	Provider string
	Reason   string
}

func (d Disabled) Synthesize(context.Context, string, string) (AudioRef, error) {
	return AudioRef{}, d.err()
}

func (d Disabled) Transcribe(context.Context, []byte) (string, error) {
	return "", d.err()
}

func (d Disabled) err() error {
	return &Error{Kind: KindUnavailable, Provider: d.Provider, Err: fmt.Errorf("%w: %s", ErrUnavailable, d.Reason)}
}

// IsDisabled reports whether v is a Disabled placeholder.
func IsDisabled(v any) bool {
	_, ok := v.(Disabled)
	return ok
}
