// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供编排核心的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 mcp、handoff、workflow、
scheduler 等上层模块提供统一的错误体系与结果类型，以避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - ToolResult        — 工具执行结果（success + data 或 error），创建后不可变

# 错误分类

  - ConnectionError        — 传输层失败，驱动重连策略
  - ToolExecutionError     — 重试耗尽后的远端工具失败
  - RateLimitedError       — 本地限流，本次调用内不可重试
  - HandoffError           — 远端编排调用失败，对该交接终态
  - StageError             — 以 errorMessage 形式持久化到工作流
  - SchedulerDispatchError — 任务标记为失败，同一批次内不重试

Cause 将错误归类为 permission / network / retries exhausted，
供上层对每次失败只发出一条用户通知。

# Context 传播

WithRequestID / WithUserID / WithSessionID / WithProjectID 及对应的读取函数。
*/
package types
