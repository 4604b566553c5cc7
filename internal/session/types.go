package session

import "time"

// Summary is the JSON view of an open connection.
type Summary struct {
	ConnectionID   string    `json:"connection_id"`
	SessionID      string    `json:"session_id"`
	PersonaID      string    `json:"persona_id"`
	VoiceID        string    `json:"voice_id"`
	Status         Status    `json:"status"`
	InFlightTurns  int       `json:"in_flight_turns"`
	TurnCount      int       `json:"turn_count"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func (c *Connection) Summary() Summary {
	return Summary{
		ConnectionID:   c.ID,
		SessionID:      c.SessionID,
		PersonaID:      c.PersonaID,
		VoiceID:        c.VoiceID,
		Status:         c.Status,
		InFlightTurns:  c.InFlightTurns,
		TurnCount:      c.TurnCount,
		StartedAt:      c.StartedAt,
		LastActivityAt: c.LastActivityAt,
	}
}
