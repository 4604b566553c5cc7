package speech

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/ent0n29/companion/internal/reliability"
)

const (
	assemblyProvider        = "assemblyai"
	DefaultAssemblyBaseURL  = "https://api.assemblyai.com"
	DefaultPollInterval     = 3 * time.Second
	DefaultMaxPolls         = 40
	defaultAssemblyLanguage = "ja"
)

type AssemblyAIConfig struct {
	APIKey       string
	BaseURL      string
	LanguageCode string
	PollInterval time.Duration
	MaxPolls     int
	Timeout      time.Duration
}

// AssemblyAITranscriber uploads audio, submits a transcript job and polls
// it at a fixed interval until it completes, fails, or the poll budget is
// spent.
type AssemblyAITranscriber struct {
	http         *resty.Client
	language     string
	pollInterval time.Duration
	maxPolls     int
}

func NewAssemblyAITranscriber(cfg AssemblyAIConfig) *AssemblyAITranscriber {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultAssemblyBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	t := &AssemblyAITranscriber{
		http: resty.New().
			SetBaseURL(base).
			SetHeader("authorization", cfg.APIKey).
			SetTimeout(timeout),
		language:     cfg.LanguageCode,
		pollInterval: cfg.PollInterval,
		maxPolls:     cfg.MaxPolls,
	}
	if t.language == "" {
		t.language = defaultAssemblyLanguage
	}
	if t.pollInterval <= 0 {
		t.pollInterval = DefaultPollInterval
	}
	if t.maxPolls <= 0 {
		t.maxPolls = DefaultMaxPolls
	}
	return t
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL     string `json:"audio_url"`
	LanguageCode string `json:"language_code"`
}

type transcriptResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

var errTranscriptPending = errors.New("transcript pending")

func (t *AssemblyAITranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", transcriptionErr(assemblyProvider, errors.New("empty audio"), false)
	}

	uploadURL, err := t.upload(ctx, audio)
	if err != nil {
		return "", err
	}
	id, err := t.submit(ctx, uploadURL)
	if err != nil {
		return "", err
	}
	return t.poll(ctx, id)
}

func (t *AssemblyAITranscriber) upload(ctx context.Context, audio []byte) (string, error) {
	var out uploadResponse
	resp, err := t.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(audio).
		SetResult(&out).
		Post("/v2/upload")
	if err != nil {
		return "", transcriptionErr(assemblyProvider, fmt.Errorf("upload: %w", err), reliability.IsRetryable(err))
	}
	if resp.IsError() {
		return "", statusErr(KindTranscription, assemblyProvider, "upload", resp)
	}
	if out.UploadURL == "" {
		return "", transcriptionErr(assemblyProvider, errors.New("upload: missing upload_url"), false)
	}
	return out.UploadURL, nil
}

func (t *AssemblyAITranscriber) submit(ctx context.Context, audioURL string) (string, error) {
	var out transcriptResponse
	resp, err := t.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(transcriptRequest{AudioURL: audioURL, LanguageCode: t.language}).
		SetResult(&out).
		Post("/v2/transcript")
	if err != nil {
		return "", transcriptionErr(assemblyProvider, fmt.Errorf("submit: %w", err), reliability.IsRetryable(err))
	}
	if resp.IsError() {
		return "", statusErr(KindTranscription, assemblyProvider, "submit", resp)
	}
	if out.ID == "" {
		return "", transcriptionErr(assemblyProvider, errors.New("submit: missing transcript id"), false)
	}
	return out.ID, nil
}

func (t *AssemblyAITranscriber) poll(ctx context.Context, id string) (string, error) {
	var text string
	op := func() error {
		var out transcriptResponse
		resp, err := t.http.R().
			SetContext(ctx).
			SetResult(&out).
			Get("/v2/transcript/" + url.PathEscape(id))
		if err != nil {
			return backoff.Permanent(transcriptionErr(assemblyProvider, fmt.Errorf("poll: %w", err), reliability.IsRetryable(err)))
		}
		if resp.IsError() {
			return backoff.Permanent(statusErr(KindTranscription, assemblyProvider, "poll", resp))
		}
		switch out.Status {
		case "completed":
			text = strings.TrimSpace(out.Text)
			return nil
		case "error":
			return backoff.Permanent(transcriptionErr(assemblyProvider, fmt.Errorf("transcript %s failed: %s", id, out.Error), false))
		default:
			return errTranscriptPending
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(t.pollInterval), uint64(t.maxPolls-1)),
		ctx,
	)
	err := backoff.Retry(op, policy)
	switch {
	case err == nil:
		return text, nil
	case errors.Is(err, errTranscriptPending):
		return "", transcriptionErr(assemblyProvider, fmt.Errorf("%w after %d polls", ErrTranscriptionTimeout, t.maxPolls), true)
	case ctx.Err() != nil:
		return "", transcriptionErr(assemblyProvider, ctx.Err(), false)
	default:
		return "", err
	}
}
