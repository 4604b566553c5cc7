package httpapi

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/ent0n29/companion/internal/conversation"
	"github.com/ent0n29/companion/internal/memory"
	"github.com/ent0n29/companion/internal/protocol"
	"github.com/ent0n29/companion/internal/reliability"
	"github.com/ent0n29/companion/internal/session"
	"github.com/ent0n29/companion/internal/speech"
)

const (
	msgTranscriptionFailed = "音声の認識に失敗しました。"
	msgTurnFailed          = "メッセージの処理中にエラーが発生しました。"
	msgProfileFailed       = "プロフィールの更新に失敗しました。"
)

// Speech stages share the latency window with the engine's turn states.
const (
	stageSynthesized = "synthesized"
	stageTranscribed = "transcribed"
)

var speechBudgets = map[string]time.Duration{
	stageSynthesized: 1500 * time.Millisecond,
	stageTranscribed: 6 * time.Second,
}

func speechOutcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type turnInput struct {
	SessionID string
	Text      string
	PersonaID string
	VoiceID   string
}

// speak runs one text turn and voices the reply. Synthesis failures only
// drop the audio.
func (s *Server) speak(ctx context.Context, in turnInput) (conversation.Reply, speech.AudioRef, error) {
	reply, err := s.engine.Respond(ctx, conversation.Request{
		SessionID: in.SessionID,
		Message:   in.Text,
		PersonaID: in.PersonaID,
	})
	if err != nil {
		return conversation.Reply{}, speech.AudioRef{}, err
	}
	return reply, s.synthesize(ctx, in.SessionID, reply.Text, in.VoiceID), nil
}

func (s *Server) synthesize(ctx context.Context, sessionID, text, voiceID string) speech.AudioRef {
	if s.synth == nil {
		return speech.AudioRef{}
	}
	started := time.Now()
	ref, err := s.synth.Synthesize(ctx, text, voiceID)
	s.metrics.ObserveStage(stageSynthesized, speechOutcome(err), time.Since(started))
	if err != nil {
		s.logger.Warn().Err(err).
			Str("session_id", sessionID).
			Str("provider", speech.ProviderOf(err)).
			Msg("speech synthesis failed; replying without audio")
		s.metrics.ObserveSpeechError(speech.ProviderOf(err), string(speech.KindOf(err)))
		return speech.AudioRef{}
	}
	return ref
}

func (s *Server) transcribe(ctx context.Context, audio []byte) (string, error) {
	if s.transcriber == nil {
		return "", &speech.Error{Kind: speech.KindUnavailable, Provider: "none", Err: speech.ErrUnavailable}
	}
	started := time.Now()
	text, err := s.transcriber.Transcribe(ctx, audio)
	s.metrics.ObserveStage(stageTranscribed, speechOutcome(err), time.Since(started))
	if err != nil {
		s.metrics.ObserveSpeechError(speech.ProviderOf(err), string(speech.KindOf(err)))
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// dispatch handles one parsed client frame for connection c and returns the
// frame to send back, or nil when there is nothing to say.
func (s *Server) dispatch(ctx context.Context, c *session.Connection, frame any) any {
	switch m := frame.(type) {
	case protocol.SendMessage:
		return s.handleSendMessage(ctx, c, m)
	case protocol.SendAudio:
		return s.handleSendAudio(ctx, c, m)
	case protocol.UpdateProfile:
		return s.handleUpdateProfile(ctx, c, m)
	default:
		return nil
	}
}

func (s *Server) handleSendMessage(ctx context.Context, c *session.Connection, m protocol.SendMessage) any {
	sid := protocol.ResolveSessionID(m.SessionID, c.SessionID)
	if strings.TrimSpace(m.Message) == "" {
		return nil
	}
	turnID := s.startTurn(c)
	defer s.endTurn(c, turnID)

	reply, audio, err := s.speak(ctx, turnInput{
		SessionID: sid,
		Text:      m.Message,
		PersonaID: firstNonEmpty(m.PersonaID, c.PersonaID),
		VoiceID:   firstNonEmpty(m.VoiceID, c.VoiceID),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sid).Msg("text turn failed")
		return errorEvent(sid, protocol.CodeInternal, msgTurnFailed, false)
	}
	return messageResponse(reply, audio)
}

func (s *Server) handleSendAudio(ctx context.Context, c *session.Connection, m protocol.SendAudio) any {
	sid := protocol.ResolveSessionID(m.SessionID, c.SessionID)
	if len(m.Audio) == 0 {
		return nil
	}
	turnID := s.startTurn(c)
	defer s.endTurn(c, turnID)

	text, err := s.transcribe(ctx, m.Audio)
	if err != nil || text == "" {
		retryable := err == nil || reliability.IsRetryable(err)
		ev := s.logger.Warn().Str("session_id", sid)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("transcription failed")
		return errorEvent(sid, protocol.CodeTranscriptionFailed, msgTranscriptionFailed, retryable)
	}

	reply, audio, err := s.speak(ctx, turnInput{
		SessionID: sid,
		Text:      text,
		PersonaID: firstNonEmpty(m.PersonaID, c.PersonaID),
		VoiceID:   firstNonEmpty(m.VoiceID, c.VoiceID),
	})
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sid).Msg("audio turn failed")
		return errorEvent(sid, protocol.CodeInternal, msgTurnFailed, false)
	}
	out := protocol.AudioResponse{
		Type:            protocol.TypeAudioResponse,
		SessionID:       reply.SessionID,
		TranscribedText: text,
		ResponseText:    reply.Text,
		Emotion:         string(reply.Emotion),
		UserEmotion:     string(reply.UserEmotion),
		Timestamp:       reply.Timestamp.Format(time.RFC3339),
		PersonaID:       reply.PersonaID,
		TopicBoost:      reply.TopicBoost,
	}
	out.AudioURL, out.AudioBase64, out.AudioFormat = audioFields(audio)
	return out
}

func (s *Server) handleUpdateProfile(ctx context.Context, c *session.Connection, m protocol.UpdateProfile) any {
	sid := protocol.ResolveSessionID(m.SessionID, c.SessionID)
	err := s.engine.UpdateProfile(ctx, memory.Profile{
		SessionID:   sid,
		Name:        m.Name,
		Preferences: m.Preferences,
		ContextData: m.ContextData,
	})
	if err != nil {
		return errorEvent(sid, protocol.CodeInvalidClientMessage, msgProfileFailed, false)
	}
	return protocol.ProfileUpdated{Type: protocol.TypeProfileUpdated, SessionID: sid}
}

func (s *Server) startTurn(c *session.Connection) string {
	id, err := s.sessions.StartTurn(c.ID)
	if err != nil {
		return ""
	}
	return id
}

func (s *Server) endTurn(c *session.Connection, turnID string) {
	if turnID == "" {
		return
	}
	_ = s.sessions.EndTurn(c.ID, turnID)
}

func messageResponse(reply conversation.Reply, audio speech.AudioRef) protocol.MessageResponse {
	out := protocol.MessageResponse{
		Type:        protocol.TypeMessageResponse,
		SessionID:   reply.SessionID,
		Text:        reply.Text,
		Emotion:     string(reply.Emotion),
		UserEmotion: string(reply.UserEmotion),
		Timestamp:   reply.Timestamp.Format(time.RFC3339),
		PersonaID:   reply.PersonaID,
		TopicBoost:  reply.TopicBoost,
	}
	out.AudioURL, out.AudioBase64, out.AudioFormat = audioFields(audio)
	return out
}

func audioFields(a speech.AudioRef) (audioURL, audioBase64, format string) {
	if a.Empty() {
		return "", "", ""
	}
	if len(a.Data) > 0 {
		audioBase64 = base64.StdEncoding.EncodeToString(a.Data)
	}
	return a.URL, audioBase64, a.Format
}

func errorEvent(sessionID, code, message string, retryable bool) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeError,
		SessionID: sessionID,
		Code:      code,
		Message:   message,
		Retryable: retryable,
	}
}
