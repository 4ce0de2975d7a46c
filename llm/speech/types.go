package speech

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyAudio 上游返回了空音频
var ErrEmptyAudio = errors.New("synthesis returned no audio")

// ============================================================
// 一次性 TTS 供应商
// ============================================================

// TTSRequest 代表一次文本转语音请求.
type TTSRequest struct {
	Text           string  `json:"text"`
	Model          string  `json:"model,omitempty"`
	Voice          string  `json:"voice,omitempty"`
	Speed          float64 `json:"speed,omitempty"`           // 0.25-4.0
	ResponseFormat string  `json:"response_format,omitempty"` // mp3, opus, aac, flac, wav, pcm
	Language       string  `json:"language,omitempty"`
}

// TTSResponse 代表 TTS 请求的回应，Audio 由调用方关闭.
type TTSResponse struct {
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	Audio     io.ReadCloser `json:"-"`
	Format    AudioFormat   `json:"format"`
	CharCount int           `json:"char_count,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// TTSProvider 定义了 TTS 提供者接口.
type TTSProvider interface {
	Synthesize(ctx context.Context, req *TTSRequest) (*TTSResponse, error)
	ListVoices(ctx context.Context) ([]Voice, error)
	Name() string
}

// Voice 代表一个可用的声音。
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Language    string `json:"language,omitempty"`
	Gender      string `json:"gender,omitempty"` // male, female, neutral
	Description string `json:"description,omitempty"`
	PreviewURL  string `json:"preview_url,omitempty"`
}

// ============================================================
// 分块合成
// ============================================================

// AudioFormat describes the encoded audio. Zero numeric fields mean unknown.
type AudioFormat struct {
	Name          string `json:"name"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	BitsPerSample int    `json:"bits_per_sample,omitempty"`
}

// ParseFormat understands plain names ("pcm", "mp3") and ElevenLabs style
// output formats ("pcm_24000", "mp3_44100_128").
func ParseFormat(s string, defaultSampleRate int) AudioFormat {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "_")
	f := AudioFormat{Name: parts[0]}
	if len(parts) > 1 {
		if rate, err := strconv.Atoi(parts[1]); err == nil {
			f.SampleRate = rate
		}
	}
	switch f.Name {
	case "pcm", "wav":
		if f.SampleRate == 0 {
			f.SampleRate = defaultSampleRate
		}
		f.Channels = 1
		f.BitsPerSample = 16
	case "ulaw", "alaw":
		if f.SampleRate == 0 {
			f.SampleRate = 8000
		}
		f.Channels = 1
		f.BitsPerSample = 8
	}
	return f
}

// AudioChunk 是合成结果的一个分块。Err 非空表示流中途失败，之后不再有分块。
type AudioChunk struct {
	Index         int
	Data          []byte
	IsLast        bool
	Format        string
	SampleRate    int
	Channels      int
	BitsPerSample int
	FromCache     bool
	Err           error
}

// Synthesizer 把一段文本合成为有序的音频分块序列。
// 返回的 channel 在最后一个分块（IsLast 或 Err）之后关闭。
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (<-chan AudioChunk, error)
}

// SynthesizerFunc 适配普通函数
type SynthesizerFunc func(ctx context.Context, text, voiceID string) (<-chan AudioChunk, error)

// Synthesize implements Synthesizer.
func (f SynthesizerFunc) Synthesize(ctx context.Context, text, voiceID string) (<-chan AudioChunk, error) {
	return f(ctx, text, voiceID)
}

// Collect 读完分块序列。遇到 Err，或序列没有以 IsLast 结束时返回错误。
func Collect(ch <-chan AudioChunk) ([]AudioChunk, error) {
	var out []AudioChunk
	for c := range ch {
		if c.Err != nil {
			return out, c.Err
		}
		out = append(out, c)
	}
	if len(out) == 0 || !out[len(out)-1].IsLast {
		return out, ErrTruncatedAudio
	}
	return out, nil
}
