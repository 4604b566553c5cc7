package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/companion/internal/completion"
	"github.com/ent0n29/companion/internal/config"
	"github.com/ent0n29/companion/internal/conversation"
	"github.com/ent0n29/companion/internal/logging"
	"github.com/ent0n29/companion/internal/speech"
)

func testConfig() config.Config {
	return config.Config{
		BindAddr:                 "127.0.0.1:0",
		ShutdownTimeout:          time.Second,
		SessionInactivityTimeout: time.Minute,
		MetricsNamespace:         "app_test",
		MemoryDriver:             "memory",
		MemoryWriteTimeout:       time.Second,
		CompletionPrimaryMode:    "fail",
		CompletionFallbackMode:   "mock",
		CompletionAttemptTimeout: time.Second,
		SpeechProvider:           "off",
		AssemblyAIPollInterval:   time.Second,
		AssemblyAIMaxPolls:       1,
	}
}

func TestBuildWiresFallbackCompletion(t *testing.T) {
	res, err := Build(context.Background(), testConfig(), logging.Nop())
	require.NoError(t, err)
	defer res.Cleanup()

	reply, err := res.Engine.Respond(context.Background(), conversation.Request{SessionID: "s", Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "I heard you: hello", reply.Text)
	assert.False(t, reply.Degraded)
	assert.Equal(t, "off", res.Speech.Detail)
	assert.False(t, res.Speech.Synthesis)
}

func TestBuildMissingGeminiKeyDegradesToApology(t *testing.T) {
	cfg := testConfig()
	cfg.CompletionPrimaryMode = "gemini"
	cfg.CompletionFallbackMode = "gemini"
	res, err := Build(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	defer res.Cleanup()

	reply, err := res.Engine.Respond(context.Background(), conversation.Request{SessionID: "s", Message: "hello"})
	require.NoError(t, err)
	assert.True(t, reply.Degraded)
	assert.Equal(t, conversation.Apology, reply.Text)
}

func TestBuildGatewaySlots(t *testing.T) {
	cfg := testConfig()
	cfg.CompletionFallbackMode = "carrier-pigeon"
	gw := buildGateway(context.Background(), cfg, logging.Nop(), nil)

	assert.IsType(t, &completion.Unavailable{}, gw.Secondary())
	assert.Equal(t, "fallback", gw.Secondary().Name())
	assert.NotNil(t, gw.Primary())

	_, err := gw.Complete(context.Background(), "hello")
	assert.ErrorIs(t, err, completion.ErrCompletion)
}

func TestBuildRejectsBadPersonaFile(t *testing.T) {
	cfg := testConfig()
	cfg.PersonaFile = t.TempDir()
	_, err := Build(context.Background(), cfg, logging.Nop())
	assert.Error(t, err)
}

func TestResolveSpeech(t *testing.T) {
	cfg := testConfig()

	cfg.SpeechProvider = "mock"
	setup, err := resolveSpeech(cfg, logging.Nop())
	require.NoError(t, err)
	assert.True(t, setup.synthEnabled)
	assert.IsType(t, speech.MockSynthesizer{}, setup.synth)

	cfg.SpeechProvider = "auto"
	setup, err = resolveSpeech(cfg, logging.Nop())
	require.NoError(t, err)
	assert.False(t, setup.synthEnabled)
	assert.False(t, setup.transEnabled)
	assert.True(t, speech.IsDisabled(setup.synth))
	assert.Nil(t, setup.catalog)

	cfg.NijiVoiceAPIKey = "n"
	cfg.ElevenLabsAPIKey = "e"
	cfg.AssemblyAIAPIKey = "a"
	setup, err = resolveSpeech(cfg, logging.Nop())
	require.NoError(t, err)
	assert.True(t, setup.synthEnabled)
	assert.True(t, setup.transEnabled)
	assert.NotNil(t, setup.catalog)
	assert.Equal(t, "nijivoice (elevenlabs fallback)", setup.detail)

	cfg.SpeechProvider = "loud"
	_, err = resolveSpeech(cfg, logging.Nop())
	assert.Error(t, err)
}

func TestServeStopsOnCancel(t *testing.T) {
	res, err := Build(context.Background(), testConfig(), logging.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- res.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
