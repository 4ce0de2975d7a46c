package stream

import (
	"github.com/BaSui01/voiceflow/config"
	"github.com/BaSui01/voiceflow/types"
	"go.uber.org/zap"
)

// NewFromConfig 根据配置创建模型流
func NewFromConfig(cfg config.LLMConfig, logger *zap.Logger) (Model, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAICompat(OpenAICompatConfig{
			ProviderName: "openai",
			BaseURL:      cfg.BaseURL,
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			Temperature:  cfg.Temperature,
			MaxTokens:    cfg.MaxTokens,
			SystemPrompt: cfg.SystemPrompt,
			Timeout:      cfg.Timeout,
		}, logger), nil
	case "echo":
		return &EchoModel{}, nil
	default:
		return nil, types.NewError(types.ErrUnsupportedBackend, "unsupported llm provider: "+cfg.Provider)
	}
}
