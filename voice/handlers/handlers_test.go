package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/voiceflow/history"
	"github.com/BaSui01/voiceflow/llm/speech"
	"github.com/BaSui01/voiceflow/session"
	"github.com/BaSui01/voiceflow/types"
	"github.com/BaSui01/voiceflow/voice/events"
	"github.com/BaSui01/voiceflow/voice/markup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

type recorder struct {
	mu     sync.Mutex
	events []events.StreamEvent
}

func (r *recorder) emit(ev events.StreamEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) ofType(t events.Type) []events.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.StreamEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type markRecorder struct {
	mu    sync.Mutex
	names []string
}

func (m *markRecorder) Mark(name string) {
	m.mu.Lock()
	m.names = append(m.names, name)
	m.mu.Unlock()
}

func newTurn(marker Marker) *TurnState {
	return NewTurnState("s1", "t1", session.Info{
		SessionID:   "s1",
		CharacterID: "c1",
		VoiceID:     "v-session",
		UserID:      "u1",
	}, marker)
}

func tagEvents(tag markup.TagType, lang string, contents ...string) []markup.TagEvent {
	evs := []markup.TagEvent{{TagType: tag, Lifecycle: markup.Opened, Language: lang, SessionID: "s1", TurnID: "t1"}}
	for _, c := range contents {
		evs = append(evs, markup.TagEvent{TagType: tag, Lifecycle: markup.Content, Language: lang, Content: c, SessionID: "s1", TurnID: "t1"})
	}
	return append(evs, markup.TagEvent{TagType: tag, Lifecycle: markup.Closed, Language: lang, SessionID: "s1", TurnID: "t1"})
}

// run feeds events through h with a shared context and returns the first error.
func run(ctx context.Context, h Handler, ts *TurnState, rec *recorder, evs []markup.TagEvent) error {
	hc := NewContext(KeyOf(evs[0]))
	for _, ev := range evs {
		if err := h.Handle(ctx, ev, hc, ts, rec.emit); err != nil {
			return err
		}
	}
	return nil
}

type chunkSynth struct {
	mu     sync.Mutex
	voices []string
	texts  []string
	chunks []speech.AudioChunk
	err    error
	block  chan struct{}
}

func (s *chunkSynth) Synthesize(ctx context.Context, text, voiceID string) (<-chan speech.AudioChunk, error) {
	s.mu.Lock()
	s.voices = append(s.voices, voiceID)
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.block != nil {
		<-s.block
	}
	ch := make(chan speech.AudioChunk, len(s.chunks))
	for _, c := range s.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type failingHistory struct {
	history.Store
	err error
}

func (f failingHistory) Append(ctx context.Context, e history.Entry) error { return f.err }

// =============================================================================
// 🔊 Speech
// =============================================================================

func TestSpeechHandler_EmitsSegmentAndChunks(t *testing.T) {
	synth := &chunkSynth{chunks: []speech.AudioChunk{
		{Index: 5, Data: []byte{1}, Format: "pcm", SampleRate: 24000, Channels: 1, BitsPerSample: 16},
		{Index: 6, Data: []byte{2}, Format: "pcm", SampleRate: 24000, Channels: 1, BitsPerSample: 16},
		{Index: 7, Data: []byte{3}, Format: "pcm", SampleRate: 24000, Channels: 1, BitsPerSample: 16, IsLast: true},
	}}
	marks := &markRecorder{}
	ts := newTurn(marks)
	rec := &recorder{}
	h := NewSpeechHandler(synth, "v-default")

	require.NoError(t, run(context.Background(), h, ts, rec, tagEvents(markup.TagSpeech, "en", "Hello ", "world")))

	segs := rec.ofType(events.TextSegment)
	require.Len(t, segs, 1)
	assert.Equal(t, "Hello world", segs[0].String("text"))
	assert.Equal(t, "en", segs[0].String("language"))
	assert.Equal(t, 0, segs[0].Int("segmentOrder"))

	audio := rec.ofType(events.AudioChunk)
	require.Len(t, audio, 3)
	lasts := 0
	for i, ev := range audio {
		assert.Equal(t, i, ev.Int("chunkIndex"))
		assert.Equal(t, "pcm", ev.String("audioFormat"))
		assert.Equal(t, 24000, ev.Int("sampleRate"))
		if ev.Bool("isLast") {
			lasts++
		}
	}
	assert.Equal(t, 1, lasts)
	assert.True(t, audio[2].Bool("isLast"))

	assert.Equal(t, []string{"v-session"}, synth.voices)
	assert.Equal(t, []string{"first_audio"}, marks.names)
	assert.Equal(t, events.TextSegment, rec.events[0].Type)
}

func TestSpeechHandler_DefaultVoiceAndSegmentOrder(t *testing.T) {
	synth := &chunkSynth{chunks: []speech.AudioChunk{{Data: []byte{1}, IsLast: true}}}
	ts := newTurn(nil)
	ts.Session.VoiceID = ""
	rec := &recorder{}
	h := NewSpeechHandler(synth, "v-default")

	require.NoError(t, run(context.Background(), h, ts, rec, tagEvents(markup.TagSpeech, "en", "one")))
	require.NoError(t, run(context.Background(), h, ts, rec, tagEvents(markup.TagSpeech, "fr", "deux")))

	assert.Equal(t, []string{"v-default", "v-default"}, synth.voices)
	audio := rec.ofType(events.AudioChunk)
	require.Len(t, audio, 2)
	assert.Equal(t, 0, audio[0].Int("segmentOrder"))
	assert.Equal(t, 1, audio[1].Int("segmentOrder"))
}

func TestSpeechHandler_SynthesisFailure(t *testing.T) {
	synth := &chunkSynth{err: errors.New("backend down")}
	ts := newTurn(nil)
	rec := &recorder{}
	h := NewSpeechHandler(synth, "v")

	err := run(context.Background(), h, ts, rec, tagEvents(markup.TagSpeech, "en", "hi"))
	require.Error(t, err)
	assert.Equal(t, types.ErrSynthesisFailed, types.GetErrorCode(err))
	assert.Empty(t, rec.ofType(events.AudioChunk))
}

func TestSpeechHandler_TruncatedSequenceEmitsNoAudio(t *testing.T) {
	synth := &chunkSynth{chunks: []speech.AudioChunk{{Data: []byte{1}}, {Data: []byte{2}, Err: errors.New("reset")}}}
	rec := &recorder{}
	h := NewSpeechHandler(synth, "v")

	err := run(context.Background(), h, newTurn(nil), rec, tagEvents(markup.TagSpeech, "en", "hi"))
	require.Error(t, err)
	assert.Empty(t, rec.ofType(events.AudioChunk))
}

func TestSpeechHandler_EmptyBlockSkipped(t *testing.T) {
	synth := &chunkSynth{}
	rec := &recorder{}
	h := NewSpeechHandler(synth, "v")

	require.NoError(t, run(context.Background(), h, newTurn(nil), rec, tagEvents(markup.TagSpeech, "en", "  ")))
	assert.Empty(t, rec.events)
	assert.Empty(t, synth.texts)
}

func TestSpeechHandler_CancelledTurnDropsResult(t *testing.T) {
	synth := &chunkSynth{
		chunks: []speech.AudioChunk{{Data: []byte{1}, IsLast: true}},
		block:  make(chan struct{}),
	}
	rec := &recorder{}
	h := NewSpeechHandler(synth, "v", WithTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, h, newTurn(nil), rec, tagEvents(markup.TagSpeech, "en", "hi"))
	}()

	require.Eventually(t, func() bool {
		synth.mu.Lock()
		defer synth.mu.Unlock()
		return len(synth.texts) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	close(synth.block)

	require.NoError(t, <-done)
	assert.Empty(t, rec.ofType(events.AudioChunk))
}

func TestSpeechHandler_WithChunkedMock(t *testing.T) {
	synth := speech.NewChunkedSynthesizer(&speech.MockProvider{BytesPerChar: 10}, speech.ChunkOptions{ChunkSize: 16}, nil)
	rec := &recorder{}
	h := NewSpeechHandler(synth, "v")

	require.NoError(t, run(context.Background(), h, newTurn(nil), rec, tagEvents(markup.TagSpeech, "en", "abcd")))

	audio := rec.ofType(events.AudioChunk)
	require.Len(t, audio, 3)
	assert.True(t, audio[2].Bool("isLast"))
	assert.False(t, audio[0].Bool("fromCache"))
}

// =============================================================================
// 💬 Subtitle
// =============================================================================

func TestSubtitleHandler_Scenario(t *testing.T) {
	ts := newTurn(nil)
	rec := &recorder{}
	h := NewSubtitleHandler()

	require.NoError(t, run(context.Background(), h, ts, rec, tagEvents(markup.TagSubtitle, "en", "Hi ")))

	require.Len(t, rec.events, 3)
	assert.Equal(t, events.SubtitleStart, rec.events[0].String("action"))
	assert.Equal(t, "en", rec.events[0].String("language"))
	assert.Equal(t, events.SubtitleSegment, rec.events[1].String("action"))
	assert.Equal(t, "Hi ", rec.events[1].String("text"))
	assert.Equal(t, 0, rec.events[1].Int("segmentIndex"))
	assert.Equal(t, events.SubtitleEnd, rec.events[2].String("action"))
	assert.Equal(t, "Hi ", rec.events[2].String("fullText"))
	assert.Equal(t, "Hi ", ts.SubtitleText())
}

func TestSubtitleHandler_SegmentsAndDisplayText(t *testing.T) {
	ts := newTurn(nil)
	rec := &recorder{}
	h := NewSubtitleHandler()

	require.NoError(t, run(context.Background(), h, ts, rec, tagEvents(markup.TagSubtitle, "en", "*waves* Hello", " there")))

	segs := rec.ofType(events.SubtitleUpdate)
	require.Len(t, segs, 4)
	assert.Equal(t, "<action>waves</action> Hello", segs[1].String("displayText"))
	assert.Equal(t, 1, segs[2].Int("segmentIndex"))
	assert.Equal(t, "*waves* Hello there", segs[3].String("fullText"))
}

func TestDisplayText(t *testing.T) {
	assert.Equal(t, "plain", DisplayText("plain"))
	assert.Equal(t, "<action>a</action> and <action>b</action>", DisplayText("*a* and *b*"))
	assert.Equal(t, "dangling *star", DisplayText("dangling *star"))
}

// =============================================================================
// 🎤 Transcription
// =============================================================================

func TestTranscriptionHandler_PersistsThenEmits(t *testing.T) {
	store := history.NewMemoryStore()
	ts := newTurn(nil)
	rec := &recorder{}
	h := NewTranscriptionHandler(store)

	require.NoError(t, run(context.Background(), h, ts, rec, tagEvents(markup.TagTranscription, "", " hello ", "there ")))

	results := rec.ofType(events.TranscriptionResult)
	require.Len(t, results, 1)
	assert.Equal(t, "hello there", results[0].String("text"))
	assert.Equal(t, "hello there", ts.Transcription())

	entries, err := store.List(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, history.RoleUser, entries[0].Role)
	assert.Equal(t, "u1", entries[0].UserID)
	assert.True(t, ts.ShouldPersist())
}

func TestTranscriptionHandler_RepeatedBlocksGetOwnLines(t *testing.T) {
	store := history.NewMemoryStore()
	ts := newTurn(nil)
	rec := &recorder{}
	h := NewTranscriptionHandler(store)

	require.NoError(t, run(context.Background(), h, ts, rec, tagEvents(markup.TagTranscription, "", "hello")))
	require.NoError(t, run(context.Background(), h, ts, rec, tagEvents(markup.TagTranscription, "", "again")))

	assert.Len(t, rec.ofType(events.TranscriptionResult), 2)
	assert.Equal(t, "hello again", ts.Transcription())

	entries, err := store.List(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 0, entries[0].Seq)
	assert.Equal(t, "hello", entries[0].Content)
	assert.Equal(t, 1, entries[1].Seq)
	assert.Equal(t, "again", entries[1].Content)
	assert.True(t, ts.ShouldPersist())
	assert.False(t, ts.HasErrors())
}

func TestTranscriptionHandler_WriteFailureFlipsFlags(t *testing.T) {
	ts := newTurn(nil)
	rec := &recorder{}
	h := NewTranscriptionHandler(failingHistory{err: errors.New("db down")})

	err := run(context.Background(), h, ts, rec, tagEvents(markup.TagTranscription, "", "hello"))
	require.Error(t, err)
	assert.Equal(t, types.ErrHistoryWrite, types.GetErrorCode(err))
	assert.False(t, ts.ShouldPersist())
	assert.True(t, ts.HasErrors())
	assert.Empty(t, rec.ofType(events.TranscriptionResult))
}

func TestTranscriptionHandler_EmptyBufferNoWrite(t *testing.T) {
	store := history.NewMemoryStore()
	rec := &recorder{}
	h := NewTranscriptionHandler(store)

	require.NoError(t, run(context.Background(), h, newTurn(nil), rec, tagEvents(markup.TagTranscription, "", "   ")))
	assert.Empty(t, rec.events)
	entries, _ := store.List(context.Background(), "s1", 10)
	assert.Empty(t, entries)
}

// =============================================================================
// 🎬 Action
// =============================================================================

func TestParseCall(t *testing.T) {
	tests := []struct {
		raw     string
		name    string
		args    []string
		wantErr bool
	}{
		{raw: "wave()", name: "wave", args: []string{}},
		{raw: " play_sound( 'door.mp3' , 0.5 ) ", name: "play_sound", args: []string{"door.mp3", "0.5"}},
		{raw: `say("a, b", c)`, name: "say", args: []string{"a, b", "c"}},
		{raw: "ui.open(menu)", name: "ui.open", args: []string{"menu"}},
		{raw: "", wantErr: true},
		{raw: "wave", wantErr: true},
		{raw: "(x)", wantErr: true},
		{raw: "9lives(x)", wantErr: true},
		{raw: `say("oops)`, wantErr: true},
		{raw: "f(g(x))", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			call, err := ParseCall(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAction)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, call.Name)
			assert.Equal(t, tt.args, call.Args)
			assert.Equal(t, tt.raw, call.Raw)
		})
	}
}

func TestActionHandler_EchoesValidCall(t *testing.T) {
	rec := &recorder{}
	h := NewActionHandler(nil)

	require.NoError(t, run(context.Background(), h, newTurn(nil), rec, tagEvents(markup.TagAction, "", "nod(", "twice)")))

	results := rec.ofType(events.ActionResult)
	require.Len(t, results, 1)
	assert.True(t, results[0].Bool("success"))
	assert.Equal(t, "nod", results[0].String("name"))
	assert.Equal(t, []string{"twice"}, results[0].Payload["args"])
}

func TestActionHandler_InvalidExpression(t *testing.T) {
	rec := &recorder{}
	h := NewActionHandler(nil)

	require.NoError(t, run(context.Background(), h, newTurn(nil), rec, tagEvents(markup.TagAction, "", "not a call")))

	results := rec.ofType(events.ActionResult)
	require.Len(t, results, 1)
	assert.False(t, results[0].Bool("success"))
	assert.Equal(t, "not a call", results[0].String("raw"))
	assert.NotEmpty(t, results[0].String("error"))
}

func TestActionHandler_ExecutorError(t *testing.T) {
	rec := &recorder{}
	boom := errors.New("boom")
	h := NewActionHandler(ExecutorFunc(func(ctx context.Context, ts *TurnState, call Call) (map[string]any, error) {
		return nil, boom
	}))

	err := run(context.Background(), h, newTurn(nil), rec, tagEvents(markup.TagAction, "", "explode()"))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, rec.events)
}

// =============================================================================
// 🧭 TurnState
// =============================================================================

func TestTurnState_ShouldPersistIsMonotone(t *testing.T) {
	ts := newTurn(nil)
	assert.True(t, ts.ShouldPersist())
	assert.False(t, ts.HasErrors())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts.SuppressPersist()
			ts.MarkError()
		}()
	}
	wg.Wait()

	assert.False(t, ts.ShouldPersist())
	assert.True(t, ts.HasErrors())
}

func TestHandlers_CanHandle(t *testing.T) {
	hs := []Handler{
		NewSpeechHandler(&chunkSynth{}, "v"),
		NewSubtitleHandler(),
		NewTranscriptionHandler(history.NewMemoryStore()),
		NewActionHandler(nil),
	}
	for i, tag := range markup.AllTagTypes {
		assert.Equal(t, tag, hs[i].TagType())
		for j, other := range markup.AllTagTypes {
			assert.Equal(t, i == j, hs[i].CanHandle(markup.TagEvent{TagType: other}))
		}
	}
}
