// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供按会话 id 组织的记录存储抽象及多后端实现。

# 概述

交接请求等会话级状态需要在进程重启后恢复。本包以 SessionStore
统一接口屏蔽底层存储细节，由启动时创建的单个存储实例显式传递给
所有使用方，不依赖全局状态。

# 核心接口

  - Store: 所有存储的基础接口，提供 Close 和 Ping 健康检查。
  - SessionStore: 会话记录存储，支持 Put（整条替换）、Get、List、
    Delete 与 Sessions 枚举。
  - Record: 会话内的一条记录，Data 为调用方自行编码的 JSON。

# 后端实现

  - Memory: 内存实现，适合开发与测试，重启后数据丢失。
  - File: 每个会话一个 JSON 文件，原子写入，适合单节点部署。
  - Redis: 每个会话一个 Hash，另以 Set 索引非空会话，适合分布式部署。

# 使用方式

	store, err := persistence.NewSessionStore(persistence.StoreConfigFrom(cfg.Handoff, cfg.Redis))
*/
package persistence
