package turn

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/voiceflow/llm/tokenizer"
	"go.uber.org/zap"
)

// Mark names recorded by a turn.
const (
	MarkTurnStarted     = "turn_started"
	MarkFirstChunk      = "first_chunk"
	MarkFirstTag        = "first_tag"
	MarkFirstAudio      = "first_audio"
	MarkStreamCompleted = "stream_completed"
	MarkTurnFinished    = "turn_finished"
)

// Recorder collects the timing marks and counters of one turn. Only the first
// occurrence of each mark is kept.
type Recorder struct {
	now func() time.Time

	mu    sync.Mutex
	marks map[string]time.Time

	chunks    atomic.Int64
	tagEvents atomic.Int64
}

// NewRecorder creates a recorder and marks turn_started.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	r := &Recorder{now: now, marks: make(map[string]time.Time)}
	r.Mark(MarkTurnStarted)
	return r
}

// Mark records name at the current time unless it is already set.
func (r *Recorder) Mark(name string) {
	t := r.now()
	r.mu.Lock()
	if _, ok := r.marks[name]; !ok {
		r.marks[name] = t
	}
	r.mu.Unlock()
}

// AddChunk counts one model chunk.
func (r *Recorder) AddChunk() { r.chunks.Add(1) }

// AddTagEvents counts parsed tag events.
func (r *Recorder) AddTagEvents(n int) { r.tagEvents.Add(int64(n)) }

// since returns the duration from turn_started to name, or 0 when unset.
func (r *Recorder) since(name string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	start, ok := r.marks[MarkTurnStarted]
	at, ok2 := r.marks[name]
	if !ok || !ok2 {
		return 0
	}
	return at.Sub(start)
}

// Report 回合指标汇总，时长单位毫秒
type Report struct {
	StartedAt     time.Time `json:"startedAt"`
	FirstChunkMs  int64     `json:"firstChunkMs"`
	FirstTagMs    int64     `json:"firstTagMs"`
	FirstAudioMs  int64     `json:"firstAudioMs"`
	StreamMs      int64     `json:"streamMs"`
	TotalMs       int64     `json:"totalMs"`
	ChunkCount    int       `json:"chunkCount"`
	TagEventCount int       `json:"tagEventCount"`
	TokenEstimate int       `json:"tokenEstimate"`
}

// Report marks turn_finished and summarizes the turn. counter may be nil.
func (r *Recorder) Report(finalText string, counter tokenizer.Counter) Report {
	r.Mark(MarkTurnFinished)

	r.mu.Lock()
	started := r.marks[MarkTurnStarted]
	r.mu.Unlock()

	rep := Report{
		StartedAt:     started,
		FirstChunkMs:  r.since(MarkFirstChunk).Milliseconds(),
		FirstTagMs:    r.since(MarkFirstTag).Milliseconds(),
		FirstAudioMs:  r.since(MarkFirstAudio).Milliseconds(),
		StreamMs:      r.since(MarkStreamCompleted).Milliseconds(),
		TotalMs:       r.since(MarkTurnFinished).Milliseconds(),
		ChunkCount:    int(r.chunks.Load()),
		TagEventCount: int(r.tagEvents.Load()),
	}
	if counter != nil && finalText != "" {
		if n, err := counter.CountTokens(finalText); err == nil {
			rep.TokenEstimate = n
		}
	}
	return rep
}

// Map returns the report as a stream event payload value.
func (rep Report) Map() map[string]any {
	return map[string]any{
		"firstChunkMs":  rep.FirstChunkMs,
		"firstTagMs":    rep.FirstTagMs,
		"firstAudioMs":  rep.FirstAudioMs,
		"streamMs":      rep.StreamMs,
		"totalMs":       rep.TotalMs,
		"chunkCount":    rep.ChunkCount,
		"tagEventCount": rep.TagEventCount,
		"tokenEstimate": rep.TokenEstimate,
	}
}

// Fields returns the report as zap fields.
func (rep Report) Fields() []zap.Field {
	return []zap.Field{
		zap.Int64("first_chunk_ms", rep.FirstChunkMs),
		zap.Int64("first_tag_ms", rep.FirstTagMs),
		zap.Int64("first_audio_ms", rep.FirstAudioMs),
		zap.Int64("stream_ms", rep.StreamMs),
		zap.Int64("total_ms", rep.TotalMs),
		zap.Int("chunks", rep.ChunkCount),
		zap.Int("tag_events", rep.TagEventCount),
		zap.Int("token_estimate", rep.TokenEstimate),
	}
}
