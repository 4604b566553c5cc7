package speech

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// NewFailoverPair builds a Synthesizer and Transcriber that prefer the
// primary providers and switch to the fallbacks when a primary call fails.
// Once a fallback succeeds it stays active until it fails; then the primary
// is retried. Both halves share one switch.
func NewFailoverPair(
	primarySynth Synthesizer,
	primaryTrans Transcriber,
	fallbackSynth Synthesizer,
	fallbackTrans Transcriber,
	fallbackVoiceID string,
) (Synthesizer, Transcriber) {
	state := &failoverState{}
	return &failoverSynthesizer{
			state:           state,
			primary:         primarySynth,
			fallback:        fallbackSynth,
			fallbackVoiceID: strings.TrimSpace(fallbackVoiceID),
		}, &failoverTranscriber{
			state:    state,
			primary:  primaryTrans,
			fallback: fallbackTrans,
		}
}

type failoverState struct {
	fallbackActive atomic.Bool
}

func (s *failoverState) activateFallback()      { s.fallbackActive.Store(true) }
func (s *failoverState) deactivateFallback()    { s.fallbackActive.Store(false) }
func (s *failoverState) isFallbackActive() bool { return s.fallbackActive.Load() }

type failoverSynthesizer struct {
	state           *failoverState
	primary         Synthesizer
	fallback        Synthesizer
	fallbackVoiceID string
}

func (p *failoverSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (AudioRef, error) {
	if p.state.isFallbackActive() {
		ref, fbErr := p.synthesizeFallback(ctx, text, voiceID)
		if fbErr == nil {
			return ref, nil
		}
		// Fallback failed after being active; try primary again.
		ref, prErr := p.primary.Synthesize(ctx, text, voiceID)
		if prErr == nil {
			p.state.deactivateFallback()
			return ref, nil
		}
		return AudioRef{}, fmt.Errorf("tts fallback failed: %v; tts primary failed: %w", fbErr, prErr)
	}

	ref, prErr := p.primary.Synthesize(ctx, text, voiceID)
	if prErr == nil {
		return ref, nil
	}
	if ctx.Err() != nil {
		return AudioRef{}, prErr
	}
	ref, fbErr := p.synthesizeFallback(ctx, text, voiceID)
	if fbErr != nil {
		return AudioRef{}, fmt.Errorf("tts primary failed: %v; tts fallback failed: %w", prErr, fbErr)
	}
	p.state.activateFallback()
	return ref, nil
}

// synthesizeFallback maps the voice id to the fallback's own voice; ids
// from one provider mean nothing to another.
func (p *failoverSynthesizer) synthesizeFallback(ctx context.Context, text, voiceID string) (AudioRef, error) {
	if p.fallbackVoiceID != "" {
		voiceID = p.fallbackVoiceID
	}
	return p.fallback.Synthesize(ctx, text, voiceID)
}

type failoverTranscriber struct {
	state    *failoverState
	primary  Transcriber
	fallback Transcriber
}

func (p *failoverTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if p.state.isFallbackActive() {
		text, fbErr := p.fallback.Transcribe(ctx, audio)
		if fbErr == nil {
			return text, nil
		}
		text, prErr := p.primary.Transcribe(ctx, audio)
		if prErr == nil {
			p.state.deactivateFallback()
			return text, nil
		}
		return "", fmt.Errorf("stt fallback failed: %v; stt primary failed: %w", fbErr, prErr)
	}

	text, prErr := p.primary.Transcribe(ctx, audio)
	if prErr == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", prErr
	}
	text, fbErr := p.fallback.Transcribe(ctx, audio)
	if fbErr != nil {
		return "", fmt.Errorf("stt primary failed: %v; stt fallback failed: %w", prErr, fbErr)
	}
	p.state.activateFallback()
	return text, nil
}
