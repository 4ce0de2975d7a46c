// Package history persists the conversation lines produced by voice turns.
package history

import (
	"context"
	"errors"
	"time"
)

// Role identifies who spoke a history line.
type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ErrInvalidEntry is returned for entries missing required fields.
var ErrInvalidEntry = errors.New("invalid history entry")

// Entry is one persisted line of a turn.
type Entry struct {
	SessionID   string `json:"session_id"`
	TurnID      string `json:"turn_id"`
	UserID      string `json:"user_id"`
	CharacterID string `json:"character_id"`
	Role        Role   `json:"role"`
	// Seq 区分同一回合同一角色的多行（多个 [ASR] 块），从 0 开始
	Seq       int       `json:"seq"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the fields every backend requires.
func (e Entry) Validate() error {
	switch {
	case e.SessionID == "":
		return errors.Join(ErrInvalidEntry, errors.New("session id is required"))
	case e.TurnID == "":
		return errors.Join(ErrInvalidEntry, errors.New("turn id is required"))
	case !e.Role.Valid():
		return errors.Join(ErrInvalidEntry, errors.New("unknown role "+string(e.Role)))
	case e.Seq < 0:
		return errors.Join(ErrInvalidEntry, errors.New("seq must not be negative"))
	}
	return nil
}

// TurnReport summarizes how a turn ended.
type TurnReport struct {
	SessionID     string
	TurnID        string
	Outcome       string
	HasErrors     bool
	FirstChunkMs  int64
	FirstAudioMs  int64
	TotalMs       int64
	ChunkCount    int
	TagEventCount int
	TokenEstimate int
	CreatedAt     time.Time
}

// Store appends and reads history lines. Append must report failure to the
// caller; a nil error means the line is durable.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	List(ctx context.Context, sessionID string, limit int) ([]Entry, error)
}

// TurnLookup reports whether a turn id already left a trace (a history line
// or a turn report). Stores implement it optionally.
type TurnLookup interface {
	HasTurn(ctx context.Context, sessionID, turnID string) (bool, error)
}

// ReportStore persists turn reports. Implementations are optional.
type ReportStore interface {
	SaveReport(ctx context.Context, report TurnReport) error
}
