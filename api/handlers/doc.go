// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 VoiceFlow HTTP API 的请求处理器实现。

# 核心类型

  - VoiceHandler：/v1/voice/ws，会话校验后升级为 WebSocket 并交给 transport
  - SessionHandler：会话创建、查询与历史读取
  - HealthHandler：/health、/healthz、/ready、/version
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码，并保留 Hijack

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON
  - ErrorCode → HTTP 状态码映射复用 types.HTTPStatusFor
  - 已认证用户只能访问自己的会话
  - 关闭期间 /ready 返回 draining，便于负载均衡摘除实例
*/
package handlers
