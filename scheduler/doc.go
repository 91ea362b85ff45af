// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 scheduler 提供定时任务的认领、派发与执行日志记录。

# 概述

Scheduler 以无状态批处理的方式运行：每次 Tick 从 scheduled_tasks 表中
找出到期任务（status 为 pending 或 active 且 scheduled_time <= now），
逐条以条件 UPDATE 原子认领为 running，只有 RowsAffected == 1 的任务
才会被派发，重叠运行的两个 Tick 不会重复派发同一任务。

# 核心模型

  - Task：定时任务记录，ScheduleType 为 once 或 recurring
  - ExecutionLog：每次处理追加一条的不可变执行日志
  - Repository：认领、结算（单事务更新任务并写日志）与遗弃认领恢复
  - Dispatcher / HTTPDispatcher：执行端点抽象与 Bearer Token HTTP 实现
  - CreditLedger / GormCreditLedger：派发前检查额度，成功后扣减

# 主要能力

  - 占位符替换：按 key 长度从长到短替换 {key}，避免短 key 破坏长 key
  - 周期计算：支持 "N day(s)"、"N week(s)"、"N month(s)"，落后于当前
    时间的锚点会继续推进直到晚于 now
  - 失败策略：派发失败标记 failed，本轮不重试；可通过
    retry_recurring_on_failure 让周期任务继续排期
  - 并发派发：errgroup 限制单批次并发数
  - 遗弃恢复：认领超过 stale_claim_timeout 仍未结算的任务回到可认领状态

# 使用方式

	repo := scheduler.NewRepository(db, logger)
	s := scheduler.New(repo, scheduler.NewHTTPDispatcher(endpoint, token, 30*time.Second, logger),
		scheduler.ConfigFrom(cfg.Scheduler), logger,
		scheduler.WithCredits(scheduler.NewGormCreditLedger(db)))
	report, err := s.Tick(ctx)
*/
package scheduler
