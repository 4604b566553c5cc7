package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	ErrProxyURL       = errors.New("invalid audio url")
	ErrProxyForbidden = errors.New("audio host not allowed")
)

// DefaultAudioHosts is used when no allow list is configured.
var DefaultAudioHosts = []string{".nijivoice.com"}

const maxProxyRedirects = 5

// AudioProxy re-serves provider-hosted audio files so browsers can play
// them without cross-origin restrictions. Only http(s) URLs on allowed
// hosts are fetched, and every redirect hop is checked against the same
// list. An entry with a leading dot allows the domain and its subdomains.
type AudioProxy struct {
	http         *resty.Client
	allowedHosts map[string]bool
	domains      []string
}

func NewAudioProxy(allowedHosts []string, timeout time.Duration) *AudioProxy {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	p := &AudioProxy{allowedHosts: make(map[string]bool)}
	for _, h := range allowedHosts {
		p.allow(h)
	}
	if len(p.allowedHosts) == 0 && len(p.domains) == 0 {
		for _, h := range DefaultAudioHosts {
			p.allow(h)
		}
	}
	p.http = resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.RedirectPolicyFunc(p.checkRedirect))
	return p
}

func (p *AudioProxy) allow(h string) {
	h = strings.ToLower(strings.TrimSpace(h))
	switch {
	case h == "" || h == ".":
	case strings.HasPrefix(h, "."):
		p.domains = append(p.domains, h)
	default:
		p.allowedHosts[h] = true
	}
}

// Allowed reports whether host may be fetched.
func (p *AudioProxy) Allowed(host string) bool {
	host = strings.ToLower(host)
	if p.allowedHosts[host] {
		return true
	}
	for _, d := range p.domains {
		if host == d[1:] || strings.HasSuffix(host, d) {
			return true
		}
	}
	return false
}

func (p *AudioProxy) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxProxyRedirects {
		return fmt.Errorf("%w: too many redirects", ErrProxyForbidden)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: redirect to %s", ErrProxyURL, req.URL.Scheme)
	}
	if !p.Allowed(req.URL.Hostname()) {
		return fmt.Errorf("%w: redirect to %s", ErrProxyForbidden, req.URL.Hostname())
	}
	return nil
}

// ProxiedAudio is an open upstream audio body. Callers must Close it.
type ProxiedAudio struct {
	Body        io.ReadCloser
	ContentType string
}

func (p *AudioProxy) Fetch(ctx context.Context, rawURL string) (ProxiedAudio, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ProxiedAudio{}, fmt.Errorf("%w: %q", ErrProxyURL, rawURL)
	}
	if !p.Allowed(u.Hostname()) {
		return ProxiedAudio{}, fmt.Errorf("%w: %s", ErrProxyForbidden, u.Hostname())
	}

	resp, err := p.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(u.String())
	if err != nil {
		return ProxiedAudio{}, fmt.Errorf("fetch audio: %w", err)
	}
	body := resp.RawBody()
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		body.Close()
		return ProxiedAudio{}, fmt.Errorf("fetch audio: upstream status %d", resp.StatusCode())
	}
	ct := resp.Header().Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return ProxiedAudio{Body: body, ContentType: ct}, nil
}
