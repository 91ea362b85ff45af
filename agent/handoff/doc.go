// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 handoff 提供智能体角色之间的职责交接跟踪与远端编排投递能力。

# 概述

当一个 Agent 需要把会话交给更合适的 Agent 时，先以 RequestHandoff
登记一条 pending 交接记录，再由 ProcessHandoff 把最近的对话窗口
投递给远端编排端点，并依据结果把记录推进到 complete 或 failed。

# 核心模型

  - Request：交接记录，包含来源/目标 Agent、原因、上下文、状态与响应
  - Status：pending -> processing -> complete / failed，只进不退；
    pending 可以被取消直接进入 failed
  - Coordinator：单个会话的交接协调器，记录写时复制，整条替换
  - Registry：按会话 id 惰性创建并恢复 Coordinator
  - Orchestrator / HTTPOrchestrator：远端编排端点抽象与 HTTP 实现

# 主要能力

  - 持久化：每条记录以会话 id 写入 persistence.SessionStore，重启后由
    Restore 恢复；恢复时仍处于 processing 的记录判定为 failed
  - 消息过滤：KeepLastN、RemoveToolMessages、WithSystemContext，
    窗口上限始终最后应用
  - 并发合并：同一 id 的并发 ProcessHandoff 通过 singleflight 合并
  - 定期清理：Run 每小时删除超过保留期的 complete 记录，
    failed 记录保留至 ClearFailed
*/
package handoff
