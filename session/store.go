// Package session resolves the conversational context a voice turn runs in.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Info is the session context threaded through a turn.
type Info struct {
	SessionID   string            `json:"session_id"`
	CharacterID string            `json:"character_id"`
	VoiceID     string            `json:"voice_id"`
	UserID      string            `json:"user_id"`
	Language    string            `json:"language,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Store looks up sessions and extends their lifetime.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Info, error)
	Touch(ctx context.Context, sessionID string) error
	Put(ctx context.Context, info *Info) error
}
