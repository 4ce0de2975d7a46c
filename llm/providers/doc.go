/*
包 providers 提供上游服务商（模型流、语音合成）共享的 HTTP 辅助能力。

# 核心函数

  - MapHTTPError：将 HTTP 状态码映射为 types.Error（含 Retryable 标记）
  - TransportError：包装连接阶段的失败，默认可重试
  - ReadErrorMessage：从 OpenAI / ElevenLabs 风格的错误体中提取消息

# 核心类型

  - OpenAICompat*：OpenAI 兼容 Chat Completions 的请求与 SSE 帧结构
*/
package providers
