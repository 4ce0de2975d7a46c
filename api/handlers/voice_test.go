package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/voiceflow/history"
	"github.com/BaSui01/voiceflow/llm/speech"
	"github.com/BaSui01/voiceflow/llm/stream"
	"github.com/BaSui01/voiceflow/session"
	"github.com/BaSui01/voiceflow/voice/dispatch"
	"github.com/BaSui01/voiceflow/voice/events"
	"github.com/BaSui01/voiceflow/voice/handlers"
	"github.com/BaSui01/voiceflow/voice/transport"
	"github.com/BaSui01/voiceflow/voice/turn"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type voiceFixture struct {
	server  *httptest.Server
	history *history.MemoryStore
}

func newVoiceFixture(t *testing.T) *voiceFixture {
	t.Helper()
	ctx := context.Background()
	sessions := session.NewMemoryStore(time.Hour)
	require.NoError(t, sessions.Put(ctx, &session.Info{SessionID: "s1", CharacterID: "c1", VoiceID: "v1", Language: "en"}))
	hist := history.NewMemoryStore()

	synth := speech.NewChunkedSynthesizer(&speech.MockProvider{BytesPerChar: 4}, speech.ChunkOptions{ChunkSize: 64}, nil)
	d := dispatch.New([]handlers.Handler{
		handlers.NewSpeechHandler(synth, "default"),
		handlers.NewSubtitleHandler(),
		handlers.NewTranscriptionHandler(hist),
		handlers.NewActionHandler(nil),
	}, dispatch.Config{}, zap.NewNop())
	t.Cleanup(d.Close)

	orch := turn.New(turn.Deps{
		Sessions:   sessions,
		Model:      &stream.EchoModel{ChunkSize: 5},
		Dispatcher: d,
		History:    hist,
		Reports:    hist,
	}, turn.Config{}, zap.NewNop())

	vh := NewVoiceHandler(sessions, orch, transport.NewHub(), transport.Config{PingInterval: -1}, nil, nil, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(vh.HandleWebSocket))
	t.Cleanup(srv.Close)
	return &voiceFixture{server: srv, history: hist}
}

func (f *voiceFixture) url(sessionID string) string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?session_id=" + sessionID
}

func TestVoiceHandler_RejectsUnknownSession(t *testing.T) {
	f := newVoiceFixture(t)

	resp, err := http.Get(f.server.URL + "/?session_id=missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp2, err := http.Get(f.server.URL + "/")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestVoiceHandler_EndToEndTurn(t *testing.T) {
	f := newVoiceFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, f.url("s1"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	msg, _ := json.Marshal(transport.ClientMessage{Type: transport.MessageTurn, TurnID: "t1", Text: "good morning"})
	require.NoError(t, conn.Write(ctx, websocket.MessageText, msg))

	var got []events.StreamEvent
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var ev events.StreamEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		got = append(got, ev)
		if ev.Type.IsTerminal() {
			break
		}
	}

	require.NotEmpty(t, got)
	assert.Equal(t, events.TurnStarted, got[0].Type)
	last := got[len(got)-1]
	require.Equal(t, events.TurnCompleted, last.Type)
	assert.Equal(t, "You said: good morning", last.String("finalText"))
	assert.True(t, last.Bool("persisted"))

	var audio int
	for _, ev := range got {
		assert.Equal(t, "t1", ev.TurnID)
		if ev.Type == events.AudioChunk {
			audio++
		}
	}
	assert.Positive(t, audio)

	entries, err := f.history.List(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "good morning", entries[0].Content)
}
