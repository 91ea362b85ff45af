// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、连接、
工具调用、交接、工作流、调度与数据库。

# 核心类型

  - Collector：指标收集器，通过 promauto.With 注册到指定 Registry。
    所有 Record 方法对 nil 接收者安全，未启用指标的组件无需判空。

# 主要指标

  - connection_state / connection_reconnect_attempts_total
  - tool_calls_total{tool,outcome} / tool_call_attempts
  - handoffs_total{target_agent,status}
  - workflow_stage_updates_total / workflow_store_fallbacks_total
  - scheduler_tasks_total / scheduler_tick_duration_seconds /
    scheduler_claim_conflicts_total
  - db_connections_open / db_connections_idle / db_healthy
*/
package metrics
