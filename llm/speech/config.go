package speech

import "time"

// OpenAITTSConfig 配置 OpenAI TTS 供应商.
type OpenAITTSConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"` // tts-1, tts-1-hd
	Voice   string        `json:"voice,omitempty" yaml:"voice,omitempty"` // alloy, echo, fable, onyx, nova, shimmer
	Format  string        `json:"format,omitempty" yaml:"format,omitempty"`
	Speed   float64       `json:"speed,omitempty" yaml:"speed,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ElevenLabsConfig 配置 ElevenLabs TTS 供应商.
type ElevenLabsConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"` // eleven_multilingual_v2
	VoiceID string        `json:"voice_id,omitempty" yaml:"voice_id,omitempty"`
	Format  string        `json:"format,omitempty" yaml:"format,omitempty"` // pcm_24000, mp3_44100_128
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultOpenAITTSConfig 返回默认 OpenAI TTS 配置 。
func DefaultOpenAITTSConfig() OpenAITTSConfig {
	return OpenAITTSConfig{
		BaseURL: "https://api.openai.com",
		Model:   "tts-1",
		Voice:   "alloy",
		Format:  "pcm",
		Timeout: 60 * time.Second,
	}
}

// DefaultElevenLabsConfig 返回默认的 ElevenLabs 配置 。
func DefaultElevenLabsConfig() ElevenLabsConfig {
	return ElevenLabsConfig{
		BaseURL: "https://api.elevenlabs.io",
		Model:   "eleven_multilingual_v2",
		VoiceID: "21m00Tcm4TlvDq8ikWAM",
		Format:  "pcm_24000",
		Timeout: 60 * time.Second,
	}
}
