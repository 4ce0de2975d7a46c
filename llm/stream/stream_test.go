package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func drain(t *testing.T, s Stream) ([]string, FinalResponse, error) {
	t.Helper()
	var chunks []string
	for c := range s.Chunks() {
		chunks = append(chunks, c)
	}
	final, err := s.Final()
	return chunks, final, err
}

func sseFrame(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"model":   "gpt-test",
		"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": content}}},
	})
	return "data: " + string(b) + "\n\n"
}

func TestExtractTranscription(t *testing.T) {
	assert.Equal(t, "hello there", ExtractTranscription("[ASR] hello there [/ASR][SUB:en]hi[/SUB]"))
	assert.Equal(t, "multi\nline", ExtractTranscription("[ASR]multi\nline[/ASR]"))
	assert.Empty(t, ExtractTranscription("[SUB:en]no asr[/SUB]"))
	assert.Empty(t, ExtractTranscription("[ASR]unterminated"))
}

func TestOpenAICompat_Stream(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range []string{"[ASR]hel", "lo[/ASR]", "[SUB:en]Hi", "[/SUB]"} {
			fmt.Fprint(w, sseFrame(part))
			flusher.Flush()
		}
		fmt.Fprint(w, `data: {"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	model := NewOpenAICompat(OpenAICompatConfig{
		BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-test", SystemPrompt: "be brief",
	}, zap.NewNop())

	s, err := model.Stream(context.Background(), Request{
		Input:   "hello",
		History: []Message{{Role: RoleUser, Content: "earlier"}, {Role: RoleAssistant, Content: "reply"}},
	})
	require.NoError(t, err)

	chunks, final, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"[ASR]hel", "lo[/ASR]", "[SUB:en]Hi", "[/SUB]"}, chunks)
	assert.Equal(t, "[ASR]hello[/ASR][SUB:en]Hi[/SUB]", final.Text)
	assert.Equal(t, "hello", final.Transcription)
	assert.Equal(t, "stop", final.FinishReason)
	assert.Equal(t, 4, final.ChunkCount)

	assert.True(t, got.Stream)
	assert.Equal(t, "gpt-test", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[3].Content)
}

func TestOpenAICompat_AudioInput(t *testing.T) {
	model := NewOpenAICompat(OpenAICompatConfig{Model: "gpt-4o-audio-preview"}, nil)
	body := model.buildRequest(Request{Audio: []byte{1, 2, 3}, AudioFormat: "mp3"})

	require.Len(t, body.Messages, 1)
	parts, ok := body.Messages[0].Content.([]contentPart)
	require.True(t, ok)
	require.Len(t, parts, 1)
	assert.Equal(t, "input_audio", parts[0].Type)
	assert.Equal(t, "AQID", parts[0].InputAudio.Data)
	assert.Equal(t, "mp3", parts[0].InputAudio.Format)
}

func TestOpenAICompat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAICompat(OpenAICompatConfig{BaseURL: srv.URL}, nil).Stream(context.Background(), Request{Input: "x"})
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
}

func TestOpenAICompat_TruncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseFrame("[SUB:en]partial"))
	}))
	defer srv.Close()

	s, err := NewOpenAICompat(OpenAICompatConfig{BaseURL: srv.URL}, nil).Stream(context.Background(), Request{Input: "x"})
	require.NoError(t, err)

	chunks, _, err := drain(t, s)
	assert.Equal(t, []string{"[SUB:en]partial"}, chunks)
	require.Error(t, err)
	assert.Equal(t, types.ErrStreamFailed, types.GetErrorCode(err))
}

func TestOpenAICompat_MalformedFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json}\n\n")
	}))
	defer srv.Close()

	s, err := NewOpenAICompat(OpenAICompatConfig{BaseURL: srv.URL}, nil).Stream(context.Background(), Request{Input: "x"})
	require.NoError(t, err)
	_, _, err = drain(t, s)
	assert.ErrorContains(t, err, "malformed stream frame")
}

func TestScriptedModel(t *testing.T) {
	boom := errors.New("boom")
	model := NewScriptedModel(
		Script{OpenErr: boom},
		Script{Chunks: []string{"a", "b"}, Err: boom},
		Script{Chunks: []string{"[ASR]hi[/ASR]"}},
	)
	ctx := context.Background()

	_, err := model.Stream(ctx, Request{TurnID: "t1"})
	assert.ErrorIs(t, err, boom)

	s, err := model.Stream(ctx, Request{TurnID: "t2"})
	require.NoError(t, err)
	chunks, _, err := drain(t, s)
	assert.Equal(t, []string{"a", "b"}, chunks)
	assert.ErrorIs(t, err, boom)

	for i := 0; i < 2; i++ {
		s, err = model.Stream(ctx, Request{})
		require.NoError(t, err)
		_, final, err := drain(t, s)
		require.NoError(t, err)
		assert.Equal(t, "hi", final.Transcription)
	}
	assert.Equal(t, 4, model.Calls())
	assert.Equal(t, "t2", model.Requests()[1].TurnID)
}

func TestScriptedModel_Cancel(t *testing.T) {
	model := NewScriptedModel(Script{Chunks: []string{"a", "b", "c"}, Delay: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	s, err := model.Stream(ctx, Request{})
	require.NoError(t, err)
	cancel()
	_, _, err = drain(t, s)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEchoModel(t *testing.T) {
	s, err := (&EchoModel{ChunkSize: 5}).Stream(context.Background(), Request{Input: "bonjour", Language: "fr"})
	require.NoError(t, err)

	chunks, final, err := drain(t, s)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	assert.Equal(t, "[ASR]bonjour[/ASR][SUB:fr]You said: bonjour[/SUB][TSS:fr]You said: bonjour[/TSS]", final.Text)
	assert.Equal(t, strings.Join(chunks, ""), final.Text)
	assert.Equal(t, "bonjour", final.Transcription)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.DefaultLLMConfig()
	m, err := NewFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAICompat{}, m)

	cfg.Provider = "echo"
	m, err = NewFromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &EchoModel{}, m)

	cfg.Provider = "bard"
	_, err = NewFromConfig(cfg, nil)
	assert.True(t, types.IsErrorCode(err, types.ErrUnsupportedBackend))
}
