// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package tlsutil 为全部出站连接提供统一的 TLS 配置。

# 使用方

  - HTTPClient      — 交接编排端点（agent/handoff）与定时任务执行端点（scheduler）
  - WebSocketClient — 工具执行端点的 WebSocket 握手（agent/protocol/mcp），固定 HTTP/1.1
  - ClientConfig    — Redis 交接存储在 redis.tls 开启时使用

统一要求 TLS 1.2 及以上，仅允许 AEAD 密码套件。
*/
package tlsutil
