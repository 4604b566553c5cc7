package speech

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ent0n29/companion/internal/reliability"
)

const (
	nijiProvider       = "nijivoice"
	DefaultNijiBaseURL = "https://api.nijivoice.com/api/platform/v1"
)

// VoiceActor is one entry of the NijiVoice voice-actor catalog.
type VoiceActor struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	NameReading    string `json:"nameReading,omitempty"`
	SmallImageURL  string `json:"smallImageUrl,omitempty"`
	SampleVoiceURL string `json:"sampleVoiceUrl,omitempty"`
}

type NijiVoiceConfig struct {
	APIKey  string
	BaseURL string
	Speed   string
	Format  string
	Timeout time.Duration
}

// NijiVoiceClient talks to the NijiVoice platform API.
type NijiVoiceClient struct {
	http   *resty.Client
	speed  string
	format string
}

func NewNijiVoiceClient(cfg NijiVoiceConfig) *NijiVoiceClient {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultNijiBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	speed := cfg.Speed
	if speed == "" {
		speed = "1.0"
	}
	format := cfg.Format
	if format == "" {
		format = "mp3"
	}
	return &NijiVoiceClient{
		http: resty.New().
			SetBaseURL(base).
			SetHeader("x-api-key", cfg.APIKey).
			SetHeader("Accept", "application/json").
			SetTimeout(timeout),
		speed:  speed,
		format: format,
	}
}

type voiceActorsResponse struct {
	VoiceActors []VoiceActor `json:"voiceActors"`
}

// ListActors fetches the voice-actor catalog.
func (c *NijiVoiceClient) ListActors(ctx context.Context) ([]VoiceActor, error) {
	var out voiceActorsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/voice-actors")
	if err != nil {
		return nil, synthesisErr(nijiProvider, fmt.Errorf("list voice actors: %w", err), reliability.IsRetryable(err))
	}
	if resp.IsError() {
		return nil, statusErr(KindSynthesis, nijiProvider, "list voice actors", resp)
	}
	return out.VoiceActors, nil
}

type generateVoiceRequest struct {
	Script string `json:"script"`
	Speed  string `json:"speed"`
	Format string `json:"format"`
}

type generateVoiceResponse struct {
	GeneratedVoice *struct {
		AudioFileURL         string `json:"audioFileUrl"`
		AudioFileDownloadURL string `json:"audioFileDownloadUrl"`
	} `json:"generatedVoice"`
	AudioFileURL string `json:"audioFileUrl"`
	URL          string `json:"url"`
	AudioURL     string `json:"audio_url"`
}

func (r generateVoiceResponse) audioURL() string {
	if g := r.GeneratedVoice; g != nil {
		if g.AudioFileURL != "" {
			return g.AudioFileURL
		}
		if g.AudioFileDownloadURL != "" {
			return g.AudioFileDownloadURL
		}
	}
	for _, u := range []string{r.AudioFileURL, r.URL, r.AudioURL} {
		if u != "" {
			return u
		}
	}
	return ""
}

// Generate synthesizes text with the given voice actor and returns the
// hosted audio URL.
func (c *NijiVoiceClient) Generate(ctx context.Context, voiceID, text string) (string, error) {
	var out generateVoiceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(generateVoiceRequest{Script: text, Speed: c.speed, Format: c.format}).
		SetResult(&out).
		Post("/voice-actors/" + url.PathEscape(voiceID) + "/generate-voice")
	if err != nil {
		return "", synthesisErr(nijiProvider, fmt.Errorf("generate voice: %w", err), reliability.IsRetryable(err))
	}
	if resp.IsError() {
		return "", statusErr(KindSynthesis, nijiProvider, "generate voice", resp)
	}
	audioURL := out.audioURL()
	if audioURL == "" {
		return "", synthesisErr(nijiProvider, errors.New("response carried no audio url"), false)
	}
	return audioURL, nil
}

// NijiVoiceSynthesizer synthesizes replies through NijiVoice. Requests
// without a voice id use the catalog's default actor.
type NijiVoiceSynthesizer struct {
	client  *NijiVoiceClient
	catalog *VoiceCatalog
	format  string
}

func NewNijiVoiceSynthesizer(client *NijiVoiceClient, catalog *VoiceCatalog) *NijiVoiceSynthesizer {
	return &NijiVoiceSynthesizer{client: client, catalog: catalog, format: client.format}
}

func (s *NijiVoiceSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (AudioRef, error) {
	if strings.TrimSpace(text) == "" {
		return AudioRef{}, nil
	}
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" && s.catalog != nil {
		id, err := s.catalog.DefaultID(ctx)
		if err != nil {
			return AudioRef{}, err
		}
		voiceID = id
	}
	if voiceID == "" {
		return AudioRef{}, synthesisErr(nijiProvider, ErrNoVoice, false)
	}

	audioURL, err := s.client.Generate(ctx, voiceID, text)
	if err != nil {
		return AudioRef{}, err
	}
	return AudioRef{URL: audioURL, Format: s.format}, nil
}

func statusErr(kind Kind, provider, op string, resp *resty.Response) error {
	body := strings.TrimSpace(string(resp.Body()))
	if len(body) > 512 {
		body = body[:512]
	}
	err := fmt.Errorf("%s: status %d: %s", op, resp.StatusCode(), body)
	if resp.StatusCode() == http.StatusNotFound {
		err = fmt.Errorf("%s: not found: %s", op, body)
	}
	return &Error{Kind: kind, Provider: provider, Retryable: reliability.IsRetryableHTTPStatus(resp.StatusCode()), Err: err}
}
