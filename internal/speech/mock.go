package speech

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
)

// MockSynthesizer returns a deterministic fake audio URL. It backs local dev
// runs without provider credentials.
type MockSynthesizer struct{}

func (MockSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (AudioRef, error) {
	if err := ctx.Err(); err != nil {
		return AudioRef{}, err
	}
	if strings.TrimSpace(text) == "" {
		return AudioRef{}, nil
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(voiceID + "|" + text))
	return AudioRef{URL: fmt.Sprintf("mock://audio/%08x.mp3", h.Sum32()), Format: "mp3"}, nil
}

// MockTranscriber treats the audio bytes as UTF-8 text.
type MockTranscriber struct{}

func (MockTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(string(audio)), nil
}
