/*
Package types 提供 voiceflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 voice、llm、session、history、
api 等上层模块提供统一的错误契约。

# 核心类型

  - Error / ErrorCode：结构化错误，含 HTTP 状态码、Retryable、Provider 标记
  - AsError / WrapError / IsErrorCode：沿 error 链查找与包装
  - HTTPStatusFor：错误码到 HTTP 状态码的默认映射
*/
package types
