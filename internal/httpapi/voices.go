package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ent0n29/companion/internal/speech"
)

type voiceActorsResponse struct {
	DefaultVoiceID string              `json:"default_voice_id"`
	VoiceActors    []speech.VoiceActor `json:"voiceActors"`
}

func (s *Server) handleVoiceActors(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		respondError(w, http.StatusServiceUnavailable, "voice_catalog_unavailable", "NijiVoice API key not configured")
		return
	}
	var (
		actors []speech.VoiceActor
		err    error
	)
	if r.URL.Query().Get("refresh") == "1" {
		actors, err = s.catalog.Refresh(r.Context())
	} else {
		actors, err = s.catalog.Actors(r.Context())
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch voice actors")
		s.metrics.ObserveSpeechError(speech.ProviderOf(err), "catalog")
		respondError(w, http.StatusBadGateway, "upstream_error", "failed to fetch voice actors from external API")
		return
	}
	out := voiceActorsResponse{VoiceActors: actors}
	if len(actors) > 0 {
		out.DefaultVoiceID = actors[0].ID
	}
	if out.VoiceActors == nil {
		out.VoiceActors = []speech.VoiceActor{}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleProxyAudio(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		respondError(w, http.StatusBadRequest, "missing_url", "URL parameter is required")
		return
	}
	audio, err := s.proxy.Fetch(r.Context(), raw)
	switch {
	case errors.Is(err, speech.ErrProxyURL):
		respondError(w, http.StatusBadRequest, "invalid_url", err.Error())
		return
	case errors.Is(err, speech.ErrProxyForbidden):
		respondError(w, http.StatusForbidden, "forbidden_host", err.Error())
		return
	case err != nil:
		s.logger.Warn().Err(err).Str("url", raw).Msg("audio proxy failed")
		respondError(w, http.StatusBadGateway, "upstream_error", "failed to proxy audio file")
		return
	}
	defer audio.Body.Close()

	w.Header().Set("Content-Type", audio.ContentType)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, audio.Body); err != nil {
		s.logger.Debug().Err(err).Msg("audio proxy copy interrupted")
	}
}
