// Package telemetry 负责 OpenTelemetry 的启动与关闭：按配置安装 OTLP/gRPC
// trace 与 metric exporter，并提供 TurnMeter，把每个回合的结果与延迟记录为
// OTel 指标。未启用时全局 provider 保持 noop，不连接任何外部服务。
package telemetry
