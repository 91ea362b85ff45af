// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 集中配置 TracerProvider 与 MeterProvider，并提供按包划分的 Tracer。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
