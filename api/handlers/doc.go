// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package handlers 提供 MannMedia HTTP API 的请求处理器实现。

# 概述

handlers 包把工作流跟踪、Agent 交接与定时调度三个组件暴露为 HTTP 端点，
并提供统一的响应与错误处理。所有 Handler 均遵循标准 net/http 接口，
路径参数通过 Go 1.22 ServeMux 的 {name} 模式读取。

# 核心类型

  - WorkflowHandler  — 工作流查询、启动、阶段与场景更新、重试、完成、失败
  - HandoffHandler   — 会话内交接的创建、执行、取消与查询
  - SchedulerHandler — 定时任务创建、查询、执行日志与手动触发调度
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - HealthCheck      — 可插拔健康检查接口（数据库、交接存储等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
*/
package handlers
