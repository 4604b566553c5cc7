// Package app wires configuration into a running companion service.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ent0n29/companion/internal/completion"
	"github.com/ent0n29/companion/internal/config"
	"github.com/ent0n29/companion/internal/conversation"
	"github.com/ent0n29/companion/internal/httpapi"
	"github.com/ent0n29/companion/internal/memory"
	"github.com/ent0n29/companion/internal/observability"
	"github.com/ent0n29/companion/internal/persona"
	"github.com/ent0n29/companion/internal/session"
)

type SpeechInfo struct {
	Detail        string
	Synthesis     bool
	Recognition   bool
	VoiceCatalog  bool
	FallbackVoice string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Engine   *conversation.Engine
	Store    memory.Store
	Sessions *session.Manager
	Metrics  *observability.Metrics
	Speech   SpeechInfo
	Logger   zerolog.Logger

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build constructs every component. Missing provider credentials disable the
// matching capability with a warning; only invalid configuration and an
// unusable persona file are fatal.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	engine, store, err := BuildEngine(ctx, cfg, logger, metrics)
	if err != nil {
		return nil, err
	}

	setup, err := resolveSpeech(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	api := httpapi.New(httpapi.Deps{
		Config:        cfg,
		Engine:        engine,
		Sessions:      sessions,
		Synthesizer:   setup.synth,
		Transcriber:   setup.trans,
		Catalog:       setup.catalog,
		Metrics:       metrics,
		Logger:        logger,
		StoreBackend:  memory.ResolveDriver(storeOptions(cfg)),
		StoreDegraded: memory.Degraded(store),
	})

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Engine:   engine,
		Store:    store,
		Sessions: sessions,
		Metrics:  metrics,
		Logger:   logger,
		Speech: SpeechInfo{
			Detail:        setup.detail,
			Synthesis:     setup.synthEnabled,
			Recognition:   setup.transEnabled,
			VoiceCatalog:  setup.catalog != nil,
			FallbackVoice: cfg.ElevenLabsVoiceID,
		},
		Cleanup: store.Close,
	}, nil
}

// BuildEngine builds the memory store, personas and completion gateway and
// returns the conversation engine over them. The CLI uses it directly.
func BuildEngine(ctx context.Context, cfg config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*conversation.Engine, memory.Store, error) {
	store, err := memory.NewStore(ctx, storeOptions(cfg), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("memory store init failed: %w", err)
	}

	overrides, err := persona.LoadFile(cfg.PersonaFile)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("persona file: %w", err)
	}
	personas := persona.NewRegistry(overrides...)

	gateway := buildGateway(ctx, cfg, logger, metrics)

	engine := conversation.NewEngine(conversation.Options{
		Store:        store,
		Completer:    gateway,
		Personas:     personas,
		Logger:       logger,
		Metrics:      metrics,
		RedactPII:    cfg.MemoryRedactPII,
		WriteTimeout: cfg.MemoryWriteTimeout,
	})
	return engine, store, nil
}

func storeOptions(cfg config.Config) memory.Options {
	return memory.Options{
		Driver:      cfg.MemoryDriver,
		SQLitePath:  cfg.SQLitePath,
		DatabaseURL: cfg.DatabaseURL,
		Redis: memory.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		},
	}
}

func buildGateway(ctx context.Context, cfg config.Config, logger zerolog.Logger, metrics *observability.Metrics) *completion.Gateway {
	slot := func(name, mode, model string) completion.Backend {
		b, err := completion.NewBackend(ctx, completion.Config{
			Mode:        mode,
			Model:       model,
			APIKey:      cfg.GeminiAPIKey,
			HTTPURL:     cfg.CompletionHTTPURL,
			HTTPStrict:  cfg.CompletionHTTPStrict,
			HTTPTimeout: cfg.CompletionAttemptTimeout,
		})
		if err != nil {
			logger.Warn().Err(err).Str("slot", name).Str("mode", mode).Msg("completion backend unavailable")
		}
		if b == nil {
			b = completion.NewUnavailable(name, "unsupported mode "+mode)
		}
		return b
	}
	gw := completion.NewGateway(
		slot("primary", cfg.CompletionPrimaryMode, cfg.GeminiPrimaryModel),
		slot("fallback", cfg.CompletionFallbackMode, cfg.GeminiFallbackModel),
		completion.WithAttemptTimeout(cfg.CompletionAttemptTimeout),
		completion.WithLogger(logger),
		completion.WithMetrics(metrics),
	)
	logger.Info().
		Str("primary", gw.Primary().Name()).
		Str("fallback", gw.Secondary().Name()).
		Msg("completion gateway ready")
	return gw
}
