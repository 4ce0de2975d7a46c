package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrEmptyText 待合成文本为空
	ErrEmptyText = errors.New("synthesis text is empty")
	// ErrTruncatedAudio 分块序列在 IsLast 之前结束
	ErrTruncatedAudio = errors.New("audio stream ended before the last chunk")
)

// DefaultChunkSize 默认音频分块大小
const DefaultChunkSize = 16 * 1024

// ChunkOptions 配置分块合成器
type ChunkOptions struct {
	ChunkSize int
	Model     string
	Speed     float64
}

// ChunkedSynthesizer adapts a one-shot TTSProvider into a Synthesizer by
// slicing the audio body into fixed-size chunks as it arrives.
type ChunkedSynthesizer struct {
	provider TTSProvider
	opts     ChunkOptions
	logger   *zap.Logger
}

// NewChunkedSynthesizer creates a chunking synthesizer over provider.
func NewChunkedSynthesizer(provider TTSProvider, opts ChunkOptions, logger *zap.Logger) *ChunkedSynthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &ChunkedSynthesizer{
		provider: provider,
		opts:     opts,
		logger:   logger.With(zap.String("component", "synthesizer"), zap.String("provider", provider.Name())),
	}
}

// Synthesize implements Synthesizer. Errors before the first byte are
// returned directly; later read errors arrive as a chunk with Err set.
func (s *ChunkedSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (<-chan AudioChunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	resp, err := s.provider.Synthesize(ctx, &TTSRequest{
		Text:  text,
		Model: s.opts.Model,
		Voice: voiceID,
		Speed: s.opts.Speed,
	})
	if err != nil {
		return nil, fmt.Errorf("%s synthesis failed: %w", s.provider.Name(), err)
	}

	s.logger.Debug("synthesis started",
		zap.String("voice_id", voiceID),
		zap.Int("chars", len(text)),
		zap.String("format", resp.Format.Name),
	)

	out := make(chan AudioChunk, 4)
	go s.pump(ctx, resp, out)
	return out, nil
}

func (s *ChunkedSynthesizer) pump(ctx context.Context, resp *TTSResponse, out chan<- AudioChunk) {
	defer close(out)
	defer resp.Audio.Close()

	send := func(c AudioChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}
	chunk := func(index int, data []byte, last bool) AudioChunk {
		return AudioChunk{
			Index:         index,
			Data:          data,
			IsLast:        last,
			Format:        resp.Format.Name,
			SampleRate:    resp.Format.SampleRate,
			Channels:      resp.Format.Channels,
			BitsPerSample: resp.Format.BitsPerSample,
		}
	}

	// 预读一块，保证 IsLast 只落在真正的最后一块上
	buf := make([]byte, s.opts.ChunkSize)
	var pending []byte
	index := 0
	total := 0
	for {
		n, err := io.ReadFull(resp.Audio, buf)
		if n > 0 {
			if pending != nil {
				if !send(chunk(index, pending, false)) {
					return
				}
				index++
			}
			pending = append([]byte(nil), buf[:n]...)
			total += n
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			s.logger.Warn("audio read failed", zap.Int("chunk_index", index), zap.Error(err))
			send(AudioChunk{Index: index, Err: fmt.Errorf("failed to read audio: %w", err)})
			return
		}
	}

	if pending == nil {
		send(AudioChunk{Err: ErrEmptyAudio})
		return
	}
	if send(chunk(index, pending, true)) {
		s.logger.Debug("synthesis finished", zap.Int("chunks", index+1), zap.Int("bytes", total))
	}
}

// splitChunks 把一整段音频切成分块序列
func splitChunks(data []byte, size int, format AudioFormat, fromCache bool) []AudioChunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var out []AudioChunk
	for i := 0; i < len(data); i += size {
		end := min(i+size, len(data))
		out = append(out, AudioChunk{
			Index:         len(out),
			Data:          data[i:end],
			IsLast:        end == len(data),
			Format:        format.Name,
			SampleRate:    format.SampleRate,
			Channels:      format.Channels,
			BitsPerSample: format.BitsPerSample,
			FromCache:     fromCache,
		})
	}
	return out
}
