package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/BaSui01/voiceflow/internal/cache"
	"go.uber.org/zap"
)

// CacheOptions 配置音频缓存
type CacheOptions struct {
	TTL       time.Duration
	ChunkSize int
	// Namespace 区分供应商与输出格式，避免不同格式的音频互相命中
	Namespace string
}

// CachedSynthesizer 在 redis 中缓存完整合成结果，命中时以 FromCache=true 回放。
type CachedSynthesizer struct {
	inner  Synthesizer
	cache  *cache.Manager
	opts   CacheOptions
	logger *zap.Logger
}

type cachedAudio struct {
	Format AudioFormat `json:"format"`
	Data   []byte      `json:"data"`
}

// NewCachedSynthesizer wraps inner with a redis audio cache.
func NewCachedSynthesizer(inner Synthesizer, cm *cache.Manager, opts CacheOptions, logger *zap.Logger) *CachedSynthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &CachedSynthesizer{
		inner:  inner,
		cache:  cm,
		opts:   opts,
		logger: logger.With(zap.String("component", "synthesis_cache")),
	}
}

func (c *CachedSynthesizer) key(text, voiceID string) string {
	sum := sha256.Sum256([]byte(text))
	return c.cache.Key("tts", c.opts.Namespace, voiceID, hex.EncodeToString(sum[:16]))
}

// Synthesize implements Synthesizer.
func (c *CachedSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (<-chan AudioChunk, error) {
	key := c.key(text, voiceID)

	var hit cachedAudio
	err := c.cache.GetJSON(ctx, key, &hit)
	switch {
	case err == nil && len(hit.Data) > 0:
		c.logger.Debug("audio cache hit", zap.String("voice_id", voiceID), zap.Int("bytes", len(hit.Data)))
		chunks := splitChunks(hit.Data, c.opts.ChunkSize, hit.Format, true)
		out := make(chan AudioChunk, len(chunks))
		for _, ch := range chunks {
			out <- ch
		}
		close(out)
		return out, nil
	case err != nil && !cache.IsCacheMiss(err):
		c.logger.Warn("audio cache read failed", zap.Error(err))
	}

	src, err := c.inner.Synthesize(ctx, text, voiceID)
	if err != nil {
		return nil, err
	}

	out := make(chan AudioChunk, 4)
	go c.tee(ctx, key, src, out)
	return out, nil
}

// tee 转发分块，同时收集完整音频；只有以 IsLast 结束的成功结果才写入缓存
func (c *CachedSynthesizer) tee(ctx context.Context, key string, src <-chan AudioChunk, out chan<- AudioChunk) {
	defer close(out)

	var data []byte
	var format AudioFormat
	complete := false

	for chunk := range src {
		if chunk.Err == nil {
			data = append(data, chunk.Data...)
			format = AudioFormat{
				Name:          chunk.Format,
				SampleRate:    chunk.SampleRate,
				Channels:      chunk.Channels,
				BitsPerSample: chunk.BitsPerSample,
			}
			complete = chunk.IsLast
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			// 继续排空上游，让合成 goroutine 退出
			for range src {
			}
			return
		}
	}

	if !complete || len(data) == 0 {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.cache.SetJSON(storeCtx, key, cachedAudio{Format: format, Data: data}, c.opts.TTL); err != nil {
		c.logger.Warn("audio cache write failed", zap.Error(err))
	}
}
