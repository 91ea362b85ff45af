// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理编排核心的数据库 Schema，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

# 表结构

  - workflow_states：每个工作单元的阶段状态（StageTracker）
  - scheduled_tasks / execution_logs：定时任务与不可变的执行日志（TaskScheduler）
  - user_credits：派发前检查与扣减的用户额度

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、Steps、Force、Version、Status、Info。
  - CLI：供 `mannmedia migrate` 子命令使用的格式化输出。
  - NewMigratorFromDatabaseConfig：从应用配置创建迁移器。
*/
package migration
