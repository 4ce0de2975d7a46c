package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamEvent_WireShape(t *testing.T) {
	ev := New(AudioChunk, "s1", "t1", AudioChunkPayload([]byte{1, 2, 3}, 0, 2, true, false, AudioMeta{Format: "pcm", SampleRate: 24000}))

	raw, err := ev.Marshal()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "AUDIO_CHUNK", decoded["type"])
	assert.Equal(t, "s1", decoded["sessionId"])
	assert.Equal(t, "t1", decoded["turnId"])
	assert.Contains(t, decoded, "timestamp")

	payload := decoded["payload"].(map[string]any)
	assert.Equal(t, "AQID", payload["audio"])
	assert.Equal(t, float64(2), payload["chunkIndex"])
	assert.Equal(t, true, payload["isLast"])
	assert.Equal(t, float64(24000), payload["sampleRate"])
	assert.NotContains(t, payload, "channels")
	assert.NotContains(t, payload, "bitsPerSample")
}

func TestStreamEvent_Accessors(t *testing.T) {
	ev := New(SubtitleUpdate, "s", "t", map[string]any{"action": "segment", "segmentIndex": 3, "final": true})
	assert.Equal(t, "segment", ev.String("action"))
	assert.Equal(t, 3, ev.Int("segmentIndex"))
	assert.Equal(t, -1, ev.Int("missing"))
	assert.True(t, ev.Bool("final"))

	empty := New(TurnStarted, "s", "t", nil)
	assert.NotNil(t, empty.Payload)
}

func TestType_IsTerminal(t *testing.T) {
	assert.True(t, TurnCompleted.IsTerminal())
	assert.True(t, TurnDiscarded.IsTerminal())
	assert.False(t, RetryFailed.IsTerminal())
	assert.False(t, TurnStarted.IsTerminal())
}
