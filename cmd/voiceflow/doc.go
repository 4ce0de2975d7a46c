/*
Package main 提供 voiceflow 服务端程序入口。

# 概述

cmd/voiceflow 把语音管线装配为一个可执行程序：WebSocket 接收用户话语，
编排器流式调用模型，标记事件分发到字幕、语音、转写、动作 handler，
结果以有序事件流推回客户端，对话行写入历史存储。

# 核心类型

  - Server：装配会话存储、历史存储、合成链、模型流、分发器与编排器，
    管理 HTTP 与 Metrics 双端口及优雅关闭
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（默认）、migrate、version、health、token
  - 中间件链：Recovery、RequestID、OTelTracing、SecurityHeaders、
    RequestLogger、MetricsMiddleware、CORS、RateLimiter（基于 IP）、
    Auth（JWT Bearer 或 X-API-Key，可选 query 参数）
  - 后端选择：会话 redis/memory，历史 database/memory，
    轮次摘要发布到 NATS 与 OpenTelemetry 指标
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号 → 标记 draining → 关闭 WebSocket → 停止监听 →
    关闭分发器与发布器 → 关闭数据库与 redis → 刷新遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
