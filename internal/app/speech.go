package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ent0n29/companion/internal/config"
	"github.com/ent0n29/companion/internal/speech"
)

type speechSetup struct {
	synth        speech.Synthesizer
	trans        speech.Transcriber
	catalog      *speech.VoiceCatalog
	synthEnabled bool
	transEnabled bool
	detail       string
}

// resolveSpeech picks synthesis and recognition providers. In auto mode
// NijiVoice is the primary voice with ElevenLabs as its failover, and
// AssemblyAI handles recognition; any provider without a key is disabled.
func resolveSpeech(cfg config.Config, logger zerolog.Logger) (speechSetup, error) {
	log := logger.With().Str("component", "speech").Logger()

	switch cfg.SpeechProvider {
	case "off":
		off := speech.Disabled{Provider: "none", Reason: "SPEECH_PROVIDER=off"}
		return speechSetup{synth: off, trans: off, detail: "off"}, nil
	case "mock":
		return speechSetup{
			synth:        speech.MockSynthesizer{},
			trans:        speech.MockTranscriber{},
			synthEnabled: true,
			transEnabled: true,
			detail:       "mock",
		}, nil
	case "auto", "":
	default:
		return speechSetup{}, fmt.Errorf("invalid SPEECH_PROVIDER: %q (expected auto|mock|off)", cfg.SpeechProvider)
	}

	var setup speechSetup

	var niji speech.Synthesizer
	if cfg.NijiVoiceAPIKey != "" {
		client := speech.NewNijiVoiceClient(speech.NijiVoiceConfig{
			APIKey:  cfg.NijiVoiceAPIKey,
			BaseURL: cfg.NijiVoiceBaseURL,
			Speed:   cfg.NijiVoiceSpeed,
			Timeout: cfg.SpeechTimeout,
		})
		setup.catalog = speech.NewVoiceCatalog(client, cfg.VoiceCatalogTTL)
		niji = speech.NewNijiVoiceSynthesizer(client, setup.catalog)
	}
	var eleven speech.Synthesizer
	if cfg.ElevenLabsAPIKey != "" {
		eleven = speech.NewElevenLabsSynthesizer(speech.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabsAPIKey,
			VoiceID: cfg.ElevenLabsVoiceID,
			ModelID: cfg.ElevenLabsModelID,
			Timeout: cfg.SpeechTimeout,
		})
	}

	var trans speech.Transcriber = speech.Disabled{Provider: "assemblyai", Reason: "ASSEMBLYAI_API_KEY is not set"}
	if cfg.AssemblyAIAPIKey != "" {
		trans = speech.NewAssemblyAITranscriber(speech.AssemblyAIConfig{
			APIKey:       cfg.AssemblyAIAPIKey,
			LanguageCode: cfg.AssemblyAILanguage,
			PollInterval: cfg.AssemblyAIPollInterval,
			MaxPolls:     cfg.AssemblyAIMaxPolls,
			Timeout:      cfg.SpeechTimeout,
		})
		setup.transEnabled = true
	} else {
		log.Warn().Msg("speech recognition disabled: ASSEMBLYAI_API_KEY is not set")
	}

	switch {
	case niji != nil && eleven != nil:
		noFallbackSTT := speech.Disabled{Provider: "elevenlabs", Reason: "no recognition fallback"}
		setup.synth, setup.trans = speech.NewFailoverPair(niji, trans, eleven, noFallbackSTT, cfg.ElevenLabsVoiceID)
		setup.synthEnabled = true
		setup.detail = "nijivoice (elevenlabs fallback)"
		return setup, nil
	case niji != nil:
		setup.synth = niji
		setup.detail = "nijivoice"
	case eleven != nil:
		setup.synth = eleven
		setup.detail = "elevenlabs"
	default:
		log.Warn().Msg("speech synthesis disabled: neither NIJIVOICE_API_KEY nor ELEVENLABS_API_KEY is set")
		setup.synth = speech.Disabled{Provider: "none", Reason: "no synthesis provider configured"}
		setup.detail = "text only"
	}
	setup.synthEnabled = niji != nil || eleven != nil
	setup.trans = trans
	return setup, nil
}
