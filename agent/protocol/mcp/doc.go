// Package mcp 提供到远程工具执行端点的 WebSocket 连接与工具调用。
//
// Client 维护单条持久连接：连接成功后立即发送 set-context，
// 启动应用层心跳，异常关闭后按 间隔×尝试次数 线性退避重连，
// 达到上限后发出一次 max-reconnect-attempts-reached 事件。
// 事件通过 Subscribe 返回的带缓冲通道投递，缓冲满时丢弃并告警。
//
// Invoker 在 Client 之上包装单个具名工具：互斥执行、200ms 本地限流、
// 防抖、单次尝试超时与有界重试，预期内的失败均以 types.ToolResult 返回。
// 工具参数按工具名区分为带类型的变体，由 DecodeToolParams 在边界处校验。
package mcp
