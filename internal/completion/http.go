package completion

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ent0n29/companion/internal/reliability"
)

// HTTPBackend forwards prompts to an HTTP completion endpoint. The endpoint
// may answer with a JSON object, plain text, SSE or NDJSON.
type HTTPBackend struct {
	url    string
	model  string
	strict bool
	client *resty.Client
}

type HTTPOptions struct {
	Model   string
	Strict  bool
	Timeout time.Duration
}

type httpRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
}

func NewHTTPBackend(url string, opts HTTPOptions) *HTTPBackend {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPBackend{
		url:    strings.TrimSpace(url),
		model:  opts.Model,
		strict: opts.Strict,
		client: resty.New().
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json, text/event-stream, application/x-ndjson").
			SetTimeout(timeout),
	}
}

func (b *HTTPBackend) Name() string {
	if b.model != "" {
		return "http:" + b.model
	}
	return "http"
}

func (b *HTTPBackend) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := b.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetBody(httpRequest{Model: b.model, Prompt: prompt}).
		Post(b.url)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(body, 4<<10))
		return "", &StatusError{
			Code:      resp.StatusCode(),
			Body:      strings.TrimSpace(string(snippet)),
			Retryable: reliability.IsRetryableHTTPStatus(resp.StatusCode()),
		}
	}

	ct := strings.ToLower(resp.Header().Get("Content-Type"))
	switch {
	case strings.Contains(ct, "text/event-stream"):
		return b.consumeSSE(body)
	case strings.Contains(ct, "application/x-ndjson"):
		return b.consumeNDJSON(body)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return strings.TrimSpace(string(raw)), nil
	}
	return extractText(obj), nil
}

// StatusError is a non-2xx answer from the completion endpoint.
type StatusError struct {
	Code      int
	Body      string
	Retryable bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion http status %d: %s", e.Code, e.Body)
}

func (b *HTTPBackend) consumeSSE(body io.Reader) (string, error) {
	scanner := newLineScanner(body)
	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		delta, err := b.decodeChunk(data)
		if err != nil {
			return "", err
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}

func (b *HTTPBackend) consumeNDJSON(body io.Reader) (string, error) {
	scanner := newLineScanner(body)
	var out strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == "[DONE]" {
			break
		}
		delta, err := b.decodeChunk(trimmed)
		if err != nil {
			return "", err
		}
		if !strings.HasPrefix(trimmed, "{") {
			// Plain text chunks keep their leading whitespace.
			delta = line
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}

// decodeChunk extracts the text of one streamed chunk. Non-JSON chunks are
// taken as raw text unless the backend is strict.
func (b *HTTPBackend) decodeChunk(chunk string) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(chunk), &obj); err != nil {
		if b.strict {
			return "", fmt.Errorf("invalid stream chunk %q: %w", chunk, err)
		}
		return chunk, nil
	}
	return extractText(obj), nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return scanner
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "message", "response"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
