package speech

import (
	"bytes"
	"context"
	"hash/fnv"
	"io"
	"time"
)

// MockProvider 生成确定性的 PCM 静音样本，用于开发环境与测试
type MockProvider struct {
	// BytesPerChar 每个字符生成的字节数，默认 64
	BytesPerChar int
	// Err 非空时 Synthesize 直接返回它
	Err error
}

func (p *MockProvider) Name() string { return "mock" }

// Synthesize 返回长度与文本成正比、内容由文本哈希决定的音频
func (p *MockProvider) Synthesize(ctx context.Context, req *TTSRequest) (*TTSResponse, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	per := p.BytesPerChar
	if per <= 0 {
		per = 64
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(req.Voice + "\x00" + req.Text))
	seed := byte(h.Sum32())

	data := make([]byte, len([]rune(req.Text))*per)
	for i := range data {
		data[i] = seed + byte(i)
	}

	return &TTSResponse{
		Provider:  p.Name(),
		Model:     "mock",
		Audio:     io.NopCloser(bytes.NewReader(data)),
		Format:    AudioFormat{Name: "pcm", SampleRate: 24000, Channels: 1, BitsPerSample: 16},
		CharCount: len(req.Text),
		CreatedAt: time.Now(),
	}, nil
}

// ListVoices returns a single mock voice.
func (p *MockProvider) ListVoices(ctx context.Context) ([]Voice, error) {
	return []Voice{{ID: "mock", Name: "Mock", Gender: "neutral"}}, nil
}
