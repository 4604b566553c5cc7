package speech

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ent0n29/companion/internal/reliability"
)

const (
	elevenProvider         = "elevenlabs"
	DefaultElevenBaseURL   = "https://api.elevenlabs.io"
	DefaultElevenModelID   = "eleven_multilingual_v2"
	defaultElevenOutFormat = "mp3_44100_128"
)

type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	VoiceID string
	ModelID string
	Timeout time.Duration
}

// ElevenLabsSynthesizer renders speech with the ElevenLabs REST API and
// returns the mp3 bytes inline.
type ElevenLabsSynthesizer struct {
	http    *resty.Client
	voiceID string
	modelID string
}

type elevenRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultElevenBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	model := cfg.ModelID
	if model == "" {
		model = DefaultElevenModelID
	}
	return &ElevenLabsSynthesizer{
		http: resty.New().
			SetBaseURL(base).
			SetHeader("xi-api-key", cfg.APIKey).
			SetTimeout(timeout),
		voiceID: strings.TrimSpace(cfg.VoiceID),
		modelID: model,
	}
}

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (AudioRef, error) {
	if strings.TrimSpace(text) == "" {
		return AudioRef{}, nil
	}
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		voiceID = s.voiceID
	}
	if voiceID == "" {
		return AudioRef{}, synthesisErr(elevenProvider, ErrNoVoice, false)
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "audio/mpeg").
		SetQueryParam("output_format", defaultElevenOutFormat).
		SetBody(elevenRequest{Text: text, ModelID: s.modelID}).
		Post("/v1/text-to-speech/" + url.PathEscape(voiceID))
	if err != nil {
		return AudioRef{}, synthesisErr(elevenProvider, fmt.Errorf("text to speech: %w", err), reliability.IsRetryable(err))
	}
	if resp.IsError() {
		return AudioRef{}, statusErr(KindSynthesis, elevenProvider, "text to speech", resp)
	}
	if len(resp.Body()) == 0 {
		return AudioRef{}, synthesisErr(elevenProvider, fmt.Errorf("empty audio body"), true)
	}
	return AudioRef{Data: resp.Body(), Format: "mp3"}, nil
}
