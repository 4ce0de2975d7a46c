package handlers

import (
	"context"
	"strings"

	"github.com/BaSui01/voiceflow/history"
	"github.com/BaSui01/voiceflow/types"
	"github.com/BaSui01/voiceflow/voice/events"
	"github.com/BaSui01/voiceflow/voice/markup"
	"go.uber.org/zap"
)

// TranscriptionHandler writes the user's recognized utterance to history
// before announcing it with TRANSCRIPTION_RESULT. Every non-empty block of a
// turn becomes its own USER line, ordered by Seq.
type TranscriptionHandler struct {
	base
	store history.Store
}

// NewTranscriptionHandler creates a transcription handler.
func NewTranscriptionHandler(store history.Store, opts ...Option) *TranscriptionHandler {
	return &TranscriptionHandler{
		base:  newBase(markup.TagTranscription, opts),
		store: store,
	}
}

// Handle implements Handler.
func (h *TranscriptionHandler) Handle(ctx context.Context, ev markup.TagEvent, hc *Context, ts *TurnState, emit Emit) error {
	switch ev.Lifecycle {
	case markup.Opened:
		hc.Reset("")
		return nil
	case markup.Content:
		hc.Append(ev.Content)
		return nil
	case markup.Closed:
	default:
		return nil
	}

	text := strings.TrimSpace(hc.Text())
	if text == "" {
		return nil
	}

	entry := history.Entry{
		SessionID:   ts.SessionID,
		TurnID:      ts.TurnID,
		UserID:      ts.Session.UserID,
		CharacterID: ts.Session.CharacterID,
		Role:        history.RoleUser,
		Seq:         ts.NextUserSeq(),
		Content:     text,
		CreatedAt:   h.now(),
	}

	writeCtx, cancel := h.detached(ctx)
	defer cancel()
	err := h.store.Append(writeCtx, entry)
	if h.collector != nil {
		h.collector.RecordHistoryWrite(string(history.RoleUser), err)
	}
	if err != nil {
		ts.SuppressPersist()
		ts.MarkError()
		h.logger.Error("failed to persist transcription", append(turnFields(ts), zap.Error(err))...)
		return types.NewError(types.ErrHistoryWrite, "failed to persist transcription").WithCause(err)
	}

	ts.AddTranscription(text)
	emit(h.event(ts, events.TranscriptionResult, map[string]any{"text": text}))
	return nil
}
