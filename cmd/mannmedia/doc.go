// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 MannMedia 编排服务的程序入口。

# 概述

cmd/mannmedia 基于 cobra 组织子命令，负责装配工具调用、Agent 交接、
工作流阶段跟踪与定时任务调度四类组件，并对外暴露 HTTP API。
程序支持 YAML 配置文件与 MANNMEDIA_ 前缀环境变量、结构化日志（zap）、
Prometheus 指标采集与 OpenTelemetry 链路追踪。

# 子命令

  - serve          — 启动 API 与 Metrics 双端口服务，并运行交接清理与定时调度
  - tick           — 执行一轮定时任务调度并输出 JSON 报告（适合 cron）
  - tool list      — 列出具备类型化参数的工具
  - tool exec      — 连接执行端点并调用单个工具
  - migrate        — 数据库迁移（up、down、status、version、steps、force）
  - version        — 输出构建信息

# 中间件链

Recovery、RequestID、SecurityHeaders、OTelTracing、RequestLogger、
MetricsMiddleware、JWTAuth（配置密钥时启用，仅作用于 /api/）、
RateLimiter（按用户或 IP）。

# 构建注入

Version、BuildTime、GitCommit 通过 ldflags 设置。
*/
package main
