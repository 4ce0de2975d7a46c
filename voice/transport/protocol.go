package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BaSui01/voiceflow/voice/turn"
)

// MessageType is the type of a client frame.
type MessageType string

const (
	// MessageTurn starts a turn from text and/or audio input.
	MessageTurn MessageType = "turn"
	// MessageCancel cancels the active turn.
	MessageCancel MessageType = "cancel"
)

// ClientMessage is one frame sent by the client. Audio is base64 in JSON.
type ClientMessage struct {
	Type        MessageType `json:"type"`
	TurnID      string      `json:"turnId,omitempty"`
	Text        string      `json:"text,omitempty"`
	Audio       []byte      `json:"audio,omitempty"`
	AudioFormat string      `json:"audioFormat,omitempty"`
}

// DecodeClientMessage parses and validates a client frame.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("invalid client message: %w", err)
	}
	msg.Type = MessageType(strings.ToLower(strings.TrimSpace(string(msg.Type))))
	switch msg.Type {
	case MessageTurn:
		if strings.TrimSpace(msg.Text) == "" && len(msg.Audio) == 0 {
			return msg, fmt.Errorf("turn message needs text or audio")
		}
	case MessageCancel:
	default:
		return msg, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return msg, nil
}

// Input converts a turn message into orchestrator input.
func (m ClientMessage) Input(sessionID string) turn.Input {
	return turn.Input{
		SessionID:   sessionID,
		TurnID:      m.TurnID,
		Text:        m.Text,
		Audio:       m.Audio,
		AudioFormat: m.AudioFormat,
	}
}
