package handlers

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/BaSui01/voiceflow/session"
)

// Marker records named timestamps of a turn (first_audio, first_tag, ...).
type Marker interface {
	Mark(name string)
}

// TurnState is the mutable context of one in-flight turn. It is shared by the
// lanes of that turn and never reused across turns.
type TurnState struct {
	SessionID string
	TurnID    string
	Session   session.Info

	hasErrors     atomic.Bool
	shouldPersist atomic.Bool
	speechOrder   atomic.Int64
	userSeq       atomic.Int64

	mu            sync.Mutex
	subtitles     strings.Builder
	transcription string

	marker Marker
}

// NewTurnState creates the state of a turn; shouldPersist starts true.
func NewTurnState(sessionID, turnID string, info session.Info, marker Marker) *TurnState {
	ts := &TurnState{
		SessionID: sessionID,
		TurnID:    turnID,
		Session:   info,
		marker:    marker,
	}
	ts.shouldPersist.Store(true)
	return ts
}

// HasErrors reports whether any step of the turn failed.
func (ts *TurnState) HasErrors() bool { return ts.hasErrors.Load() }

// MarkError flags the turn as having errors.
func (ts *TurnState) MarkError() { ts.hasErrors.Store(true) }

// ShouldPersist reports whether the assistant line may still be written.
func (ts *TurnState) ShouldPersist() bool { return ts.shouldPersist.Load() }

// SuppressPersist clears shouldPersist. There is no way to set it back.
func (ts *TurnState) SuppressPersist() { ts.shouldPersist.Store(false) }

// AppendSubtitle adds subtitle text to the turn accumulator.
func (ts *TurnState) AppendSubtitle(text string) {
	ts.mu.Lock()
	ts.subtitles.WriteString(text)
	ts.mu.Unlock()
}

// SubtitleText returns all subtitle text accumulated so far.
func (ts *TurnState) SubtitleText() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.subtitles.String()
}

// AddTranscription appends one recognized block to the user's utterance.
// Blocks of the same turn are joined with a space.
func (ts *TurnState) AddTranscription(text string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.transcription != "" {
		ts.transcription += " "
	}
	ts.transcription += text
}

// Transcription returns the user's recognized utterance, if any.
func (ts *TurnState) Transcription() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.transcription
}

// NextUserSeq returns the zero-based sequence of the next USER history line.
func (ts *TurnState) NextUserSeq() int {
	return int(ts.userSeq.Add(1) - 1)
}

// NextSpeechSegment returns the zero-based order of the next speech block.
func (ts *TurnState) NextSpeechSegment() int {
	return int(ts.speechOrder.Add(1) - 1)
}

// Mark forwards a named timestamp to the turn's metrics.
func (ts *TurnState) Mark(name string) {
	if ts.marker != nil {
		ts.marker.Mark(name)
	}
}
