// =============================================================================
// 📦 voiceflow 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Auth:      AuthConfig{AllowQueryToken: true},
		Pipeline:  DefaultPipelineConfig(),
		Retry:     DefaultRetryConfig(),
		LLM:       DefaultLLMConfig(),
		Speech:    DefaultSpeechConfig(),
		Session:   SessionConfig{Backend: "redis", TTL: 30 * time.Minute},
		History:   HistoryConfig{Backend: "database", WriteRetries: 3},
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Events:    EventsConfig{Subject: "voiceflow.turns"},
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultPipelineConfig 返回默认管线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		LaneQueueSize:  256,
		EventBuffer:    64,
		HandlerTimeout: 30 * time.Second,
		TurnTimeout:    3 * time.Minute,
		HistoryLimit:   20,
		TokenizerModel: "gpt-4o",
	}
}

// DefaultRetryConfig 返回模型流的默认重试策略：3 次，500ms 起，倍数 2.0
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    "openai",
		BaseURL:     "https://api.openai.com",
		Model:       "gpt-4o-mini",
		Temperature: 0.8,
		MaxTokens:   1024,
		Timeout:     2 * time.Minute,
	}
}

// DefaultSpeechConfig 返回默认语音合成配置
func DefaultSpeechConfig() SpeechConfig {
	return SpeechConfig{
		// BaseURL/Model 留空时使用各供应商自己的默认值
		Provider:     "openai",
		DefaultVoice: "alloy",
		Format:       "pcm",
		SampleRate:   24000,
		Channels:     1,
		Speed:        1.0,
		ChunkSize:    16 * 1024,
		Timeout:      30 * time.Second,
		CacheEnabled: true,
		CacheTTL:     24 * time.Hour,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "voiceflow:",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "voiceflow",
		Name:            "voiceflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "voiceflow",
		SampleRate:   0.1,
	}
}
