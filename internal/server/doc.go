// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理：非阻塞启动、
优雅关闭与异步错误传播。API 服务与 /metrics 服务各使用一个 Manager，
信号处理由调用方通过 context 完成。
*/
package server
