package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/voiceflow/types"
)

// MapHTTPError 将上游 HTTP 状态码映射为带重试标记的 types.Error
// 模型流与语音合成共用这一映射
func MapHTTPError(status int, msg string, provider string) *types.Error {
	err := types.NewError(types.ErrUpstreamError, msg).
		WithHTTPStatus(status).
		WithProvider(provider)

	switch status {
	case http.StatusUnauthorized:
		err.Code = types.ErrUnauthorized
	case http.StatusForbidden:
		err.Code = types.ErrForbidden
	case http.StatusTooManyRequests:
		err.Code = types.ErrRateLimited
		err.Retryable = true
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		err.Code = types.ErrInvalidRequest
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		err.Code = types.ErrUpstreamTimeout
		err.Retryable = true
	case http.StatusServiceUnavailable, http.StatusBadGateway, 529:
		err.Retryable = true
	default:
		err.Retryable = status >= 500
	}
	return err
}

// TransportError 包装请求发送阶段（连接、DNS、TLS）的失败
func TransportError(err error, provider string) *types.Error {
	return types.NewError(types.ErrUpstreamError, err.Error()).
		WithCause(err).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true).
		WithProvider(provider)
}

// ReadErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
		Detail any `json:"detail"`
	}

	if err := json.Unmarshal(data, &errResp); err == nil {
		if errResp.Error.Message != "" {
			if errResp.Error.Type != "" {
				return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
			}
			return errResp.Error.Message
		}
		// ElevenLabs 返回 {"detail": {...}} 或 {"detail": "..."}
		switch d := errResp.Detail.(type) {
		case string:
			return d
		case map[string]any:
			if m, ok := d["message"].(string); ok {
				return m
			}
		}
	}

	return strings.TrimSpace(string(data))
}

// =============================================================================
// 📦 OpenAI 兼容 Chat Completions 类型
// =============================================================================

// OpenAICompatMessage 表示 OpenAI 兼容的消息格式.
type OpenAICompatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAICompatRequest 表示 OpenAI 兼容的聊天完成请求.
type OpenAICompatRequest struct {
	Model       string                `json:"model"`
	Messages    []OpenAICompatMessage `json:"messages"`
	MaxTokens   int                   `json:"max_tokens,omitempty"`
	Temperature float64               `json:"temperature,omitempty"`
	Stream      bool                  `json:"stream"`
}

// OpenAICompatDelta 是流式响应中的增量内容.
type OpenAICompatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// OpenAICompatChoice 是流式响应的一个候选.
type OpenAICompatChoice struct {
	Index        int                `json:"index"`
	Delta        *OpenAICompatDelta `json:"delta,omitempty"`
	FinishReason string             `json:"finish_reason,omitempty"`
}

// OpenAICompatResponse 是一个 SSE data 帧.
type OpenAICompatResponse struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []OpenAICompatChoice `json:"choices"`
}
