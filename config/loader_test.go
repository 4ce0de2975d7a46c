// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)

	// 模型流重试策略
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)

	assert.Equal(t, "openai", cfg.Speech.Provider)
	assert.Equal(t, "alloy", cfg.Speech.DefaultVoice)
	assert.Equal(t, "redis", cfg.Session.Backend)
	assert.Equal(t, "database", cfg.History.Backend)
	assert.Equal(t, "voiceflow:", cfg.Redis.KeyPrefix)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "voiceflow.yaml")
	yamlContent := `
server:
  http_port: 9000
pipeline:
  lane_queue_size: 32
  handler_timeout: 5s
retry:
  max_retries: 5
  initial_delay: 250ms
speech:
  provider: elevenlabs
  default_voice: rachel
database:
  driver: sqlite
  name: /tmp/voice.db
auth:
  api_keys: [k1, k2]
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 32, cfg.Pipeline.LaneQueueSize)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.HandlerTimeout)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, "elevenlabs", cfg.Speech.Provider)
	assert.Equal(t, "rachel", cfg.Speech.DefaultVoice)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Auth.APIKeys)
	assert.Equal(t, "/tmp/voice.db", cfg.Database.DSN())
	// 未覆盖的字段保留默认值
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("VOICEFLOW_SERVER_HTTP_PORT", "7777")
	t.Setenv("VOICEFLOW_RETRY_INITIAL_DELAY", "1s")
	t.Setenv("VOICEFLOW_RETRY_MULTIPLIER", "3")
	t.Setenv("VOICEFLOW_SPEECH_CACHE_ENABLED", "false")
	t.Setenv("VOICEFLOW_REDIS_ADDR", "env-redis:6379")
	t.Setenv("VOICEFLOW_AUTH_API_KEYS", "a, b,,c")
	t.Setenv("VOICEFLOW_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 3.0, cfg.Retry.Multiplier)
	assert.False(t, cfg.Speech.CacheEnabled)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Auth.APIKeys)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "voiceflow.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8888\nllm:\n  model: yaml-model\n"), 0o644))

	t.Setenv("VOICEFLOW_SERVER_HTTP_PORT", "9999")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "yaml-model", cfg.LLM.Model)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SESSION_BACKEND", "memory")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Session.Backend)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("VOICEFLOW_RETRY_INITIAL_DELAY", "soon")

	_, err := NewLoader().Load()
	assert.ErrorContains(t, err, "VOICEFLOW_RETRY_INITIAL_DELAY")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("VOICEFLOW_SPEECH_PROVIDER", "carrier-pigeon")

	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	assert.ErrorContains(t, err, "unknown speech provider")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/voiceflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.HTTPPort = 70000 }, "invalid HTTP port"},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, "max_retries"},
		{"shrinking multiplier", func(c *Config) { c.Retry.Multiplier = 0.5 }, "multiplier"},
		{"zero queue", func(c *Config) { c.Pipeline.LaneQueueSize = 0 }, "lane_queue_size"},
		{"bad session backend", func(c *Config) { c.Session.Backend = "etcd" }, "session backend"},
		{"bad history backend", func(c *Config) { c.History.Backend = "s3" }, "history backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "h", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=n sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "h", Port: 3306, User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "u:p@tcp(h:3306)/n?parseTime=true", my.DSN())

	assert.Equal(t, "", (&DatabaseConfig{Driver: "oracle"}).DSN())
}

func TestMustLoad_InvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o644))

	assert.Panics(t, func() { MustLoad(configPath) })
}
