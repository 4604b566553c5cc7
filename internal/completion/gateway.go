package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/companion/internal/observability"
)

// DefaultAttemptTimeout bounds a single backend call.
const DefaultAttemptTimeout = 30 * time.Second

// Gateway calls the primary backend and falls back to the secondary exactly
// once. It never retries beyond that.
type Gateway struct {
	primary        Backend
	secondary      Backend
	attemptTimeout time.Duration
	logger         zerolog.Logger
	metrics        *observability.Metrics
}

type GatewayOption func(*Gateway)

func WithAttemptTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.attemptTimeout = d
		}
	}
}

func WithLogger(logger zerolog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = logger.With().Str("component", "completion").Logger() }
}

func WithMetrics(m *observability.Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

func NewGateway(primary, secondary Backend, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		primary:        primary,
		secondary:      secondary,
		attemptTimeout: DefaultAttemptTimeout,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Primary returns the preferred backend.
func (g *Gateway) Primary() Backend { return g.primary }

// Secondary returns the fallback backend.
func (g *Gateway) Secondary() Backend { return g.secondary }

// Complete returns the first non-empty completion. When the primary fails the
// secondary receives the identical prompt. If ctx itself is done the
// secondary is not tried.
func (g *Gateway) Complete(ctx context.Context, prompt string) (string, error) {
	if g.primary == nil && g.secondary == nil {
		return "", &CompletionError{Primary: fmt.Errorf("gateway misconfigured")}
	}

	var primaryErr error
	if g.primary != nil {
		text, err := g.attempt(ctx, g.primary, prompt)
		if err == nil {
			return text, nil
		}
		primaryErr = err
	} else {
		primaryErr = fmt.Errorf("no primary backend")
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if g.secondary == nil {
		return "", &CompletionError{Primary: primaryErr}
	}

	g.logger.Warn().Err(primaryErr).
		Str("primary", backendName(g.primary)).
		Str("fallback", g.secondary.Name()).
		Msg("primary backend failed; switching to fallback")
	g.metrics.CountTurnEvent("completion_fallback")

	text, err := g.attempt(ctx, g.secondary, prompt)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &CompletionError{Primary: primaryErr, Secondary: err}
	}
	return text, nil
}

func (g *Gateway) attempt(ctx context.Context, b Backend, prompt string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
	defer cancel()

	text, err := b.Complete(attemptCtx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyCompletion
	}
	if err != nil {
		result := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		} else if errors.Is(err, ErrEmptyCompletion) {
			result = "empty"
		}
		g.metrics.ObserveCompletion(b.Name(), result)
		return "", fmt.Errorf("%s: %w", b.Name(), err)
	}
	g.metrics.ObserveCompletion(b.Name(), "ok")
	return strings.TrimSpace(text), nil
}

func backendName(b Backend) string {
	if b == nil {
		return ""
	}
	return b.Name()
}
