// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package api 定义 MannMedia 编排服务 HTTP API 的请求类型。
//
// # API 概览
//
// 服务对外提供以下 RESTful 端点:
//   - 工作流阶段跟踪（启动、阶段更新、场景更新、重试、完成）
//   - 会话内的 Agent 交接（创建、执行、取消、查询）
//   - 定时任务（创建、查询执行日志、手动触发调度）
//   - 健康检查与版本信息
//
// # 认证
//
// 配置了 JWT 密钥时，/api/v1 下的端点需要携带 Bearer Token:
//
//	Authorization: Bearer <token>
//
// # 基础地址
//
// 默认监听地址:
//
//	http://localhost:8080
//
// 指标端点独立监听:
//
//	http://localhost:9091/metrics
package api
