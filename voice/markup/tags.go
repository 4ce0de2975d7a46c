package markup

import "time"

// TagType 控制标记类型
type TagType string

const (
	TagSpeech        TagType = "SPEECH"
	TagSubtitle      TagType = "SUBTITLE"
	TagTranscription TagType = "TRANSCRIPTION"
	TagAction        TagType = "ACTION"
)

// AllTagTypes lists every tag type in lane order.
var AllTagTypes = []TagType{TagSpeech, TagSubtitle, TagTranscription, TagAction}

// HasLanguage reports whether the open marker of t carries a language code.
func (t TagType) HasLanguage() bool {
	return t == TagSpeech || t == TagSubtitle
}

// Lifecycle 标记生命周期阶段
type Lifecycle string

const (
	Opened  Lifecycle = "OPENED"
	Content Lifecycle = "CONTENT"
	Closed  Lifecycle = "CLOSED"
)

// State 解析器状态
type State string

const (
	StateNormal          State = "NORMAL"
	StateInSpeech        State = "IN_SPEECH"
	StateInSubtitle      State = "IN_SUBTITLE"
	StateInTranscription State = "IN_TRANSCRIPTION"
	StateInAction        State = "IN_ACTION"
)

// bodyState maps a tag type to the parser state inside its body.
func bodyState(t TagType) State {
	switch t {
	case TagSpeech:
		return StateInSpeech
	case TagSubtitle:
		return StateInSubtitle
	case TagTranscription:
		return StateInTranscription
	case TagAction:
		return StateInAction
	default:
		return StateNormal
	}
}

// TagType returns the tag whose body s represents, or "" for NORMAL.
func (s State) TagType() TagType {
	switch s {
	case StateInSpeech:
		return TagSpeech
	case StateInSubtitle:
		return TagSubtitle
	case StateInTranscription:
		return TagTranscription
	case StateInAction:
		return TagAction
	default:
		return ""
	}
}

// TagEvent is one lifecycle step of a tag region recognized in the model stream.
// Values are immutable once created.
type TagEvent struct {
	TagType   TagType   `json:"tag_type"`
	Lifecycle Lifecycle `json:"lifecycle"`
	Language  string    `json:"language,omitempty"`
	Content   string    `json:"content,omitempty"`
	SessionID string    `json:"session_id"`
	TurnID    string    `json:"turn_id"`
	// StreamPosition is the ordinal of the event within its turn, starting at 1.
	StreamPosition int64 `json:"stream_position"`
	// Offset is the byte offset in the turn's text stream where the event begins.
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
}
