// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开工作流状态与定时任务所用的关系型数据库，
并管理连接池、健康检查与事务重试。

# 驱动

  - postgres / mysql：通过 gorm.io/driver/postgres、gorm.io/driver/mysql
  - sqlite：github.com/glebarez/sqlite，纯 Go 实现
  - sqlite3：gorm.io/driver/sqlite，cgo 实现

# 核心类型

  - PoolManager：连接池管理器，提供 DB()、Ping()、Healthy()、Stats()、Close()。
  - PoolConfig：最大连接数、生命周期与健康检查间隔。
  - TransactionFunc / RunInTransaction：事务执行与可重试错误的指数退避。
*/
package database
