package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/voiceflow/internal/tlsutil"
	"github.com/BaSui01/voiceflow/llm/providers"
	"github.com/BaSui01/voiceflow/types"
	"go.uber.org/zap"
)

// OpenAICompatConfig 配置 OpenAI 兼容的 Chat Completions 端点
type OpenAICompatConfig struct {
	ProviderName string
	BaseURL      string
	APIKey       string
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Timeout      time.Duration
	EndpointPath string
}

// OpenAICompat streams chat completions over SSE.
type OpenAICompat struct {
	cfg    OpenAICompatConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAICompat creates an OpenAI compatible model stream.
func NewOpenAICompat(cfg OpenAICompatConfig, logger *zap.Logger) *OpenAICompat {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &OpenAICompat{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(tlsutil.ClientOptions{Timeout: cfg.Timeout, Streaming: true}),
		logger: logger.With(zap.String("component", "model_stream"), zap.String("provider", cfg.ProviderName)),
	}
}

type contentPart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	InputAudio *inputAudio `json:"input_audio,omitempty"`
}

type inputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

func (m *OpenAICompat) buildRequest(req Request) chatRequest {
	body := chatRequest{
		Model:       m.cfg.Model,
		MaxTokens:   m.cfg.MaxTokens,
		Temperature: m.cfg.Temperature,
		Stream:      true,
	}

	system := req.SystemPrompt
	if system == "" {
		system = m.cfg.SystemPrompt
	}
	if system != "" {
		body.Messages = append(body.Messages, chatMessage{Role: string(RoleSystem), Content: system})
	}
	for _, h := range req.History {
		body.Messages = append(body.Messages, chatMessage{Role: string(h.Role), Content: h.Content})
	}

	if len(req.Audio) == 0 {
		body.Messages = append(body.Messages, chatMessage{Role: string(RoleUser), Content: req.Input})
		return body
	}

	parts := make([]contentPart, 0, 2)
	if req.Input != "" {
		parts = append(parts, contentPart{Type: "text", Text: req.Input})
	}
	format := req.AudioFormat
	if format == "" {
		format = "wav"
	}
	parts = append(parts, contentPart{
		Type:       "input_audio",
		InputAudio: &inputAudio{Data: base64.StdEncoding.EncodeToString(req.Audio), Format: format},
	})
	body.Messages = append(body.Messages, chatMessage{Role: string(RoleUser), Content: parts})
	return body
}

// Stream opens the SSE stream. HTTP level failures are returned directly and
// carry the retry flag from providers.MapHTTPError.
func (m *OpenAICompat) Stream(ctx context.Context, req Request) (Stream, error) {
	payload, err := json.Marshal(m.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := strings.TrimRight(m.cfg.BaseURL, "/") + m.cfg.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if m.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, providers.TransportError(err, m.cfg.ProviderName)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), m.cfg.ProviderName)
	}

	m.logger.Debug("model stream opened",
		zap.String("session_id", req.SessionID),
		zap.String("turn_id", req.TurnID),
		zap.String("model", m.cfg.Model),
	)

	p := newPipe(16)
	go m.readSSE(ctx, resp.Body, p)
	return p, nil
}

func (m *OpenAICompat) streamError(msg string, cause error) error {
	return types.NewError(types.ErrStreamFailed, msg).
		WithCause(cause).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithProvider(m.cfg.ProviderName)
}

// readSSE 解析 data: 帧直到 [DONE]
func (m *OpenAICompat) readSSE(ctx context.Context, body io.ReadCloser, p *pipe) {
	defer body.Close()

	finishReason := ""
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			switch {
			case ctx.Err() != nil:
				p.finish(finishReason, ctx.Err())
			case errors.Is(err, io.EOF) && finishReason != "":
				// 部分兼容端点不发送 [DONE]
				p.finish(finishReason, nil)
			case errors.Is(err, io.EOF):
				p.finish(finishReason, m.streamError("stream ended without [DONE]", err))
			default:
				p.finish(finishReason, m.streamError("stream read failed", err))
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			p.finish(finishReason, nil)
			return
		}

		var frame providers.OpenAICompatResponse
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			p.finish(finishReason, m.streamError("malformed stream frame", err))
			return
		}
		for _, choice := range frame.Choices {
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
			if choice.Delta == nil {
				continue
			}
			if !p.send(ctx, choice.Delta.Content) {
				p.finish(finishReason, ctx.Err())
				return
			}
		}
	}
}
