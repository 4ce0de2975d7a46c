// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的语音管线指标采集能力，覆盖
HTTP、回合、事件、handler、合成、缓存与历史写入等维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，所有指标按 namespace 隔离。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx；
    websocket 连接数 Gauge。
  - 回合指标：按 outcome 统计回合数、总耗时、首个 chunk 与首段音频延迟、
    最终文本 token 估算。
  - 事件指标：按类型统计推送的 Stream Event；handler 调用次数与耗时、
    lane 队列深度。
  - 重试与合成：模型流重试次数，合成请求数（区分缓存命中）与耗时。
*/
package metrics
