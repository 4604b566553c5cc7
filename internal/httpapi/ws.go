package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/companion/internal/protocol"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = 50 * time.Second
	wsMaxFrameSize = 16 << 20
	wsOutboundSize = 64
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "conversation engine not configured")
		return
	}
	q := r.URL.Query()
	sessionID := protocol.ResolveSessionID(q.Get("session_id"), "")
	personaID := firstNonEmpty(q.Get("persona_id"), q.Get("personality"))
	voiceID := firstNonEmpty(q.Get("voice_id"), q.Get("voice_actor_id"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := s.sessions.Open(sessionID, personaID, voiceID)
	s.metrics.ConnectionOpened()
	log := s.logger.With().Str("connection_id", c.ID).Str("session_id", sessionID).Logger()
	log.Info().Str("persona_id", personaID).Msg("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	s.trackConn(c.ID, func() {
		cancel()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "idle"),
			time.Now().Add(wsWriteWait))
		_ = conn.Close()
	})

	outbound := make(chan any, wsOutboundSize)
	writerDone := make(chan struct{})
	go s.writeLoop(ctx, cancel, conn, outbound, writerDone, log)

	outbound <- protocol.Connected{Type: protocol.TypeConnected, SessionID: sessionID, Status: "connected"}

	conn.SetReadLimit(wsMaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	var turns sync.WaitGroup
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		_ = s.sessions.Touch(c.ID)

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			log.Debug().Err(err).Msg("invalid client frame")
			ev := errorEvent(sessionID, protocol.CodeInvalidClientMessage, err.Error(), false)
			select {
			case outbound <- ev:
			default:
				// Writes stay on one goroutine; drop when the queue is full.
				s.metrics.ObserveWSMessage("dropped", string(protocol.TypeError))
			}
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}

		turns.Add(1)
		go func(frame any) {
			defer turns.Done()
			out := s.dispatch(ctx, c, frame)
			if out == nil {
				return
			}
			select {
			case outbound <- out:
			case <-ctx.Done():
			}
		}(parsed)
	}

	cancel()
	turns.Wait()
	<-writerDone
	s.untrackConn(c.ID)
	_, _ = s.sessions.Close(c.ID)
	s.metrics.ConnectionClosed()
	log.Info().Msg("client disconnected")
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, outbound <-chan any, done chan<- struct{}, log zerolog.Logger) {
	defer close(done)
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				cancel()
				return
			}
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				cancel()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.ObserveWSMessage("outbound", string(t))
			}
		}
	}
}
