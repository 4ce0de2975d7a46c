package events

import (
	"encoding/json"
	"time"
)

// Type 客户端可见事件类型
type Type string

const (
	TurnStarted         Type = "TURN_STARTED"
	TranscriptionResult Type = "TRANSCRIPTION_RESULT"
	TextSegment         Type = "TEXT_SEGMENT"
	AudioChunk          Type = "AUDIO_CHUNK"
	SubtitleUpdate      Type = "SUBTITLE_UPDATE"
	ActionResult        Type = "ACTION_RESULT"
	TurnCompleted       Type = "TURN_COMPLETED"
	Error               Type = "ERROR"
	RetryStarted        Type = "RETRY_STARTED"
	RetryProgress       Type = "RETRY_PROGRESS"
	RetryFailed         Type = "RETRY_FAILED"
	TurnDiscarded       Type = "TURN_DISCARDED"
)

// IsTerminal reports whether t ends a turn's event sequence.
func (t Type) IsTerminal() bool {
	return t == TurnCompleted || t == TurnDiscarded
}

// Subtitle actions carried in SUBTITLE_UPDATE payloads.
const (
	SubtitleStart   = "start"
	SubtitleSegment = "segment"
	SubtitleEnd     = "end"
)

// StreamEvent is the unit pushed to the client.
type StreamEvent struct {
	Type      Type           `json:"type"`
	SessionID string         `json:"sessionId"`
	TurnID    string         `json:"turnId"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// New creates an event stamped with the current time.
func New(t Type, sessionID, turnID string, payload map[string]any) StreamEvent {
	if payload == nil {
		payload = map[string]any{}
	}
	return StreamEvent{
		Type:      t,
		SessionID: sessionID,
		TurnID:    turnID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// Marshal encodes the event in its wire form.
func (e StreamEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// String returns a payload value as a string, or "".
func (e StreamEvent) String(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// Int returns a payload value as an int, or -1.
func (e StreamEvent) Int(key string) int {
	switch v := e.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return -1
	}
}

// Bool returns a payload value as a bool.
func (e StreamEvent) Bool(key string) bool {
	b, _ := e.Payload[key].(bool)
	return b
}
