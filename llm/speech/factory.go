package speech

import (
	"fmt"
	"strings"

	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/internal/cache"
	"github.com/BaSui01/voiceflow/types"
	"go.uber.org/zap"
)

// NewProvider 根据配置创建 TTS 供应商
func NewProvider(cfg config.SpeechConfig) (TTSProvider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai", "":
		return NewOpenAITTSProvider(OpenAITTSConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Voice:   cfg.DefaultVoice,
			Format:  cfg.Format,
			Speed:   cfg.Speed,
			Timeout: cfg.Timeout,
		}), nil
	case "elevenlabs":
		format := cfg.Format
		if format == "pcm" && cfg.SampleRate > 0 {
			format = fmt.Sprintf("pcm_%d", cfg.SampleRate)
		}
		return NewElevenLabsProvider(ElevenLabsConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			VoiceID: cfg.DefaultVoice,
			Format:  format,
			Timeout: cfg.Timeout,
		}), nil
	case "mock":
		return &MockProvider{}, nil
	default:
		return nil, types.NewError(types.ErrUnsupportedBackend, "unsupported speech provider: "+cfg.Provider)
	}
}

// NewFromConfig 创建完整的合成链：供应商 → 分块 →（可选）redis 缓存
func NewFromConfig(cfg config.SpeechConfig, cm *cache.Manager, logger *zap.Logger) (Synthesizer, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	var synth Synthesizer = NewChunkedSynthesizer(provider, ChunkOptions{
		ChunkSize: cfg.ChunkSize,
		Model:     cfg.Model,
		Speed:     cfg.Speed,
	}, logger)

	if cfg.CacheEnabled && cm != nil {
		synth = NewCachedSynthesizer(synth, cm, CacheOptions{
			TTL:       cfg.CacheTTL,
			ChunkSize: cfg.ChunkSize,
			Namespace: provider.Name() + ":" + cfg.Format,
		}, logger)
	}
	return synth, nil
}
