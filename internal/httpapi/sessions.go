package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/companion/internal/conversation"
	"github.com/ent0n29/companion/internal/memory"
	"github.com/ent0n29/companion/internal/protocol"
	"github.com/ent0n29/companion/internal/speech"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	PersonaID string `json:"persona_id"`
	VoiceID   string `json:"voice_id"`
	// Speak asks for synthesized audio in the response.
	Speak bool `json:"speak"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sid := protocol.ResolveSessionID(req.SessionID, "")
	reply, err := s.engine.Respond(r.Context(), conversation.Request{
		SessionID: sid,
		Message:   req.Message,
		PersonaID: req.PersonaID,
	})
	if errors.Is(err, conversation.ErrEmptyMessage) {
		respondError(w, http.StatusBadRequest, "empty_message", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, protocol.CodeInternal, err.Error())
		return
	}
	var audio speech.AudioRef
	if req.Speak {
		audio = s.synthesize(r.Context(), sid, reply.Text, req.VoiceID)
	}
	respondJSON(w, http.StatusOK, messageResponse(reply, audio))
}

type historyResponse struct {
	SessionID string        `json:"session_id"`
	Turns     []memory.Turn `json:"turns"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}
	sid := strings.TrimSpace(chi.URLParam(r, "id"))
	limit := memory.DefaultRecentLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	turns, err := s.engine.History(r.Context(), sid, limit)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_session", err.Error())
		return
	}
	if turns == nil {
		turns = []memory.Turn{}
	}
	respondJSON(w, http.StatusOK, historyResponse{SessionID: sid, Turns: turns})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}
	sid := strings.TrimSpace(chi.URLParam(r, "id"))
	p, err := s.engine.Profile(r.Context(), sid)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_session", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type profileRequest struct {
	Name        string `json:"name"`
	Preferences string `json:"preferences"`
	ContextData string `json:"context_data"`
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}
	sid := strings.TrimSpace(chi.URLParam(r, "id"))
	var req profileRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p := memory.Profile{SessionID: sid, Name: req.Name, Preferences: req.Preferences, ContextData: req.ContextData}
	if err := s.engine.UpdateProfile(r.Context(), p); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_session", err.Error())
		return
	}
	stored, err := s.engine.Profile(r.Context(), sid)
	if err != nil || stored.Empty() {
		// The store could not be read back; echo what was submitted.
		stored = p
	}
	respondJSON(w, http.StatusOK, stored)
}

type personaSummary struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	TopicBoost  bool   `json:"topic_boost"`
}

func (s *Server) handlePersonas(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}
	list := s.engine.Personas().List()
	out := make([]personaSummary, 0, len(list))
	for _, p := range list {
		out = append(out, personaSummary{ID: p.ID, DisplayName: p.DisplayName, TopicBoost: p.TopicBoost != nil})
	}
	respondJSON(w, http.StatusOK, map[string]any{"personas": out})
}
