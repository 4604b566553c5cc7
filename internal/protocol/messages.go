package protocol

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeSendMessage   MessageType = "send_message"
	TypeSendAudio     MessageType = "send_audio"
	TypeUpdateProfile MessageType = "update_profile"

	TypeConnected       MessageType = "connected"
	TypeMessageResponse MessageType = "message_response"
	TypeAudioResponse   MessageType = "audio_response"
	TypeProfileUpdated  MessageType = "profile_updated"
	TypeError           MessageType = "error"
)

// DefaultSessionID is used when neither the frame nor the connection names a
// session.
const DefaultSessionID = "default"

var ErrUnsupportedType = errors.New("unsupported message type")

// Error codes carried by error frames.
const (
	CodeInvalidClientMessage = "invalid_client_message"
	CodeTranscriptionFailed  = "transcription_failed"
	CodeInternal             = "internal_error"
)

type Envelope struct {
	Type MessageType `json:"type"`
}

// SendMessage is a text turn. Personality and VoiceActorID are accepted as
// aliases of PersonaID and VoiceID.
type SendMessage struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id"`
	Message      string      `json:"message"`
	PersonaID    string      `json:"persona_id,omitempty"`
	Personality  string      `json:"personality,omitempty"`
	VoiceID      string      `json:"voice_id,omitempty"`
	VoiceActorID string      `json:"voice_actor_id,omitempty"`
}

// SendAudio is a voice turn; AudioData is hex encoded.
type SendAudio struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id"`
	AudioData    string      `json:"audio_data"`
	PersonaID    string      `json:"persona_id,omitempty"`
	Personality  string      `json:"personality,omitempty"`
	VoiceID      string      `json:"voice_id,omitempty"`
	VoiceActorID string      `json:"voice_actor_id,omitempty"`

	Audio []byte `json:"-"`
}

type UpdateProfile struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Name        string      `json:"name,omitempty"`
	Preferences string      `json:"preferences,omitempty"`
	ContextData string      `json:"context_data,omitempty"`
}

type Connected struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Status    string      `json:"status"`
}

type MessageResponse struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Text        string      `json:"text"`
	Emotion     string      `json:"emotion"`
	UserEmotion string      `json:"user_emotion"`
	AudioURL    string      `json:"audio_url,omitempty"`
	AudioBase64 string      `json:"audio_base64,omitempty"`
	AudioFormat string      `json:"audio_format,omitempty"`
	Timestamp   string      `json:"timestamp"`
	PersonaID   string      `json:"persona_id"`
	TopicBoost  bool        `json:"topic_boost"`
}

type AudioResponse struct {
	Type            MessageType `json:"type"`
	SessionID       string      `json:"session_id"`
	TranscribedText string      `json:"transcribed_text"`
	ResponseText    string      `json:"response_text"`
	Emotion         string      `json:"emotion"`
	UserEmotion     string      `json:"user_emotion"`
	AudioURL        string      `json:"audio_url,omitempty"`
	AudioBase64     string      `json:"audio_base64,omitempty"`
	AudioFormat     string      `json:"audio_format,omitempty"`
	Timestamp       string      `json:"timestamp"`
	PersonaID       string      `json:"persona_id"`
	TopicBoost      bool        `json:"topic_boost"`
}

type ProfileUpdated struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

// ParseClientMessage decodes one inbound frame. Empty text messages are
// valid here; deciding to ignore them belongs to the caller.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSendMessage:
		var msg SendMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.PersonaID = firstNonEmpty(msg.PersonaID, msg.Personality)
		msg.VoiceID = firstNonEmpty(msg.VoiceID, msg.VoiceActorID)
		return msg, nil
	case TypeSendAudio:
		var msg SendAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		audio, err := hex.DecodeString(strings.TrimSpace(msg.AudioData))
		if err != nil {
			return nil, fmt.Errorf("invalid send_audio: audio_data is not hex: %w", err)
		}
		msg.Audio = audio
		msg.PersonaID = firstNonEmpty(msg.PersonaID, msg.Personality)
		msg.VoiceID = firstNonEmpty(msg.VoiceID, msg.VoiceActorID)
		return msg, nil
	case TypeUpdateProfile:
		var msg UpdateProfile
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// ResolveSessionID picks the frame's session id, then the connection's, then
// DefaultSessionID.
func ResolveSessionID(frame, connection string) string {
	return firstNonEmpty(strings.TrimSpace(frame), strings.TrimSpace(connection), DefaultSessionID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
