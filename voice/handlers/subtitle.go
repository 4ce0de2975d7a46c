package handlers

import (
	"context"
	"regexp"

	"github.com/BaSui01/voiceflow/voice/events"
	"github.com/BaSui01/voiceflow/voice/markup"
)

var stageDirection = regexp.MustCompile(`\*([^*]+)\*`)

// DisplayText wraps *stage directions* in <action> markers.
func DisplayText(s string) string {
	return stageDirection.ReplaceAllString(s, "<action>$1</action>")
}

// SubtitleHandler streams [SUB] blocks as SUBTITLE_UPDATE events.
type SubtitleHandler struct {
	base
}

// NewSubtitleHandler creates a subtitle handler.
func NewSubtitleHandler(opts ...Option) *SubtitleHandler {
	return &SubtitleHandler{base: newBase(markup.TagSubtitle, opts)}
}

// Handle implements Handler.
func (h *SubtitleHandler) Handle(_ context.Context, ev markup.TagEvent, hc *Context, ts *TurnState, emit Emit) error {
	switch ev.Lifecycle {
	case markup.Opened:
		hc.Reset(ev.Language)
		emit(h.event(ts, events.SubtitleUpdate, map[string]any{
			"action":   events.SubtitleStart,
			"language": ev.Language,
		}))
	case markup.Content:
		hc.Append(ev.Content)
		ts.AppendSubtitle(ev.Content)
		idx := hc.Segment
		hc.Segment++
		emit(h.event(ts, events.SubtitleUpdate, map[string]any{
			"action":       events.SubtitleSegment,
			"language":     hc.Language,
			"segmentIndex": idx,
			"text":         ev.Content,
			"displayText":  DisplayText(ev.Content),
		}))
	case markup.Closed:
		emit(h.event(ts, events.SubtitleUpdate, map[string]any{
			"action":   events.SubtitleEnd,
			"language": hc.Language,
			"fullText": hc.Text(),
		}))
	}
	return nil
}
