// Package config 提供 voiceflow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，环境变量键名形如
// VOICEFLOW_SPEECH_PROVIDER、VOICEFLOW_RETRY_INITIAL_DELAY。
package config
