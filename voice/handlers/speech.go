package handlers

import (
	"context"
	"strings"

	"github.com/BaSui01/voiceflow/llm/speech"
	"github.com/BaSui01/voiceflow/types"
	"github.com/BaSui01/voiceflow/voice/events"
	"github.com/BaSui01/voiceflow/voice/markup"
	"go.uber.org/zap"
)

// SpeechHandler synthesizes each closed [TSS] block into AUDIO_CHUNK events.
type SpeechHandler struct {
	base
	synth        speech.Synthesizer
	defaultVoice string
}

// NewSpeechHandler creates a speech handler. defaultVoice is used when the
// session carries no voice.
func NewSpeechHandler(synth speech.Synthesizer, defaultVoice string, opts ...Option) *SpeechHandler {
	return &SpeechHandler{
		base:         newBase(markup.TagSpeech, opts),
		synth:        synth,
		defaultVoice: defaultVoice,
	}
}

// Handle implements Handler.
func (h *SpeechHandler) Handle(ctx context.Context, ev markup.TagEvent, hc *Context, ts *TurnState, emit Emit) error {
	switch ev.Lifecycle {
	case markup.Opened:
		hc.Reset(ev.Language)
		hc.Order = ts.NextSpeechSegment()
		return nil
	case markup.Content:
		hc.Append(ev.Content)
		return nil
	case markup.Closed:
		return h.synthesize(ctx, hc, ts, emit)
	}
	return nil
}

func (h *SpeechHandler) synthesize(ctx context.Context, hc *Context, ts *TurnState, emit Emit) error {
	text := hc.Text()
	if strings.TrimSpace(text) == "" {
		h.logger.Debug("empty speech block skipped", turnFields(ts)...)
		return nil
	}

	emit(h.event(ts, events.TextSegment, map[string]any{
		"text":         text,
		"language":     hc.Language,
		"segmentOrder": hc.Order,
	}))

	voiceID := ts.Session.VoiceID
	if voiceID == "" {
		voiceID = h.defaultVoice
	}

	callCtx, cancel := h.detached(ctx)
	defer cancel()

	start := h.now()
	chunks, err := h.collect(callCtx, text, voiceID)
	fromCache := len(chunks) > 0 && chunks[0].FromCache
	if h.collector != nil {
		h.collector.RecordSynthesis(err, fromCache, h.now().Sub(start))
	}
	if err != nil {
		h.logger.Warn("speech synthesis failed",
			append(turnFields(ts), zap.String("voice_id", voiceID), zap.Error(err))...)
		return types.NewError(types.ErrSynthesisFailed, "speech synthesis failed").WithCause(err)
	}

	// 客户端已断开：合成已完成，但结果丢弃
	if ctx.Err() != nil {
		h.logger.Debug("synthesis result dropped after cancellation", turnFields(ts)...)
		return nil
	}

	ts.Mark("first_audio")
	for i, c := range chunks {
		emit(h.event(ts, events.AudioChunk, events.AudioChunkPayload(
			c.Data, hc.Order, i, i == len(chunks)-1, c.FromCache,
			events.AudioMeta{
				Format:        c.Format,
				SampleRate:    c.SampleRate,
				Channels:      c.Channels,
				BitsPerSample: c.BitsPerSample,
			},
		)))
	}

	h.logger.Debug("speech block synthesized",
		append(turnFields(ts),
			zap.Int("segment_order", hc.Order),
			zap.Int("chunks", len(chunks)),
			zap.Bool("from_cache", fromCache))...)
	return nil
}

func (h *SpeechHandler) collect(ctx context.Context, text, voiceID string) ([]speech.AudioChunk, error) {
	ch, err := h.synth.Synthesize(ctx, text, voiceID)
	if err != nil {
		return nil, err
	}
	return speech.Collect(ch)
}
