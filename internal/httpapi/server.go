package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/companion/internal/config"
	"github.com/ent0n29/companion/internal/conversation"
	"github.com/ent0n29/companion/internal/observability"
	"github.com/ent0n29/companion/internal/protocol"
	"github.com/ent0n29/companion/internal/session"
	"github.com/ent0n29/companion/internal/speech"
)

// Deps are the collaborators a Server routes requests to. Speech fields may
// be nil (or speech.Disabled) when the capability is not configured.
type Deps struct {
	Config        config.Config
	Engine        *conversation.Engine
	Sessions      *session.Manager
	Synthesizer   speech.Synthesizer
	Transcriber   speech.Transcriber
	Catalog       *speech.VoiceCatalog
	Proxy         *speech.AudioProxy
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
	StoreBackend  string
	StoreDegraded bool
}

type Server struct {
	cfg         config.Config
	engine      *conversation.Engine
	sessions    *session.Manager
	synth       speech.Synthesizer
	transcriber speech.Transcriber
	catalog     *speech.VoiceCatalog
	proxy       *speech.AudioProxy
	metrics     *observability.Metrics
	logger      zerolog.Logger
	store       string
	degraded    bool
	upgrader    websocket.Upgrader

	connMu sync.Mutex
	conns  map[string]func()
}

func New(d Deps) *Server {
	s := &Server{
		cfg:         d.Config,
		engine:      d.Engine,
		sessions:    d.Sessions,
		synth:       d.Synthesizer,
		transcriber: d.Transcriber,
		catalog:     d.Catalog,
		proxy:       d.Proxy,
		metrics:     d.Metrics,
		logger:      d.Logger.With().Str("component", "httpapi").Logger(),
		store:       d.StoreBackend,
		degraded:    d.StoreDegraded,
		conns:       make(map[string]func()),
	}
	if speech.IsDisabled(s.synth) {
		s.synth = nil
	}
	if speech.IsDisabled(s.transcriber) {
		s.transcriber = nil
	}
	for stage, budget := range speechBudgets {
		s.metrics.DeclareStageTarget(stage, budget)
	}
	if s.sessions == nil {
		s.sessions = session.NewManager(d.Config.SessionInactivityTimeout)
	}
	if s.proxy == nil {
		s.proxy = speech.NewAudioProxy(d.Config.AudioProxyAllowedHosts, 30*time.Second)
	}
	s.sessions.SetExpireHook(func(c *session.Connection) {
		s.logger.Info().Str("connection_id", c.ID).Str("session_id", c.SessionID).Msg("closing idle connection")
		s.dropConn(c.ID)
	})

	allowAny := d.Config.AllowAnyOrigin
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Only same-origin browsers unless explicitly opened up.
			if allowAny {
				return true
			}
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				// Non-browser clients often omit Origin.
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/health", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Get("/v1/ws", s.handleWS)
	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/sessions/{id}/history", s.handleHistory)
	r.Get("/v1/sessions/{id}/profile", s.handleGetProfile)
	r.Put("/v1/sessions/{id}/profile", s.handlePutProfile)
	r.Get("/v1/connections", s.handleConnections)
	r.Get("/v1/personas", s.handlePersonas)

	r.Get("/v1/voice-actors", s.handleVoiceActors)
	r.Get("/api/voice-actors", s.handleVoiceActors)
	r.Get("/v1/proxy-audio", s.handleProxyAudio)
	r.Get("/api/proxy-audio", s.handleProxyAudio)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	state := "ready"
	if s.engine == nil {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	respondJSON(w, status, map[string]any{
		"status":             state,
		"memory_backend":     s.store,
		"memory_degraded":    s.degraded,
		"speech_synthesis":   s.synth != nil,
		"speech_recognition": s.transcriber != nil,
		"voice_catalog":      s.catalog != nil,
		"active_connections": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleConnections(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"connections": s.sessions.List()})
}

func (s *Server) trackConn(id string, closeFn func()) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conns[id] = closeFn
}

func (s *Server) untrackConn(id string) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.conns, id)
}

func (s *Server) dropConn(id string) {
	s.connMu.Lock()
	closeFn := s.conns[id]
	delete(s.conns, id)
	s.connMu.Unlock()
	if closeFn != nil {
		closeFn()
	}
}

// Shutdown closes every open websocket connection.
func (s *Server) Shutdown(context.Context) {
	s.connMu.Lock()
	fns := make([]func(), 0, len(s.conns))
	for id, fn := range s.conns {
		fns = append(fns, fn)
		delete(s.conns, id)
	}
	s.connMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.SendMessage:
		return m.Type, true
	case protocol.SendAudio:
		return m.Type, true
	case protocol.UpdateProfile:
		return m.Type, true
	case protocol.Connected:
		return m.Type, true
	case protocol.MessageResponse:
		return m.Type, true
	case protocol.AudioResponse:
		return m.Type, true
	case protocol.ProfileUpdated:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
