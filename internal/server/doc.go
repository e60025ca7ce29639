// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 TokenBudget 的监听端口：API 端口与可选的独立
metrics 端口各用一个 Manager。

Start 非阻塞，证书与私钥同时配置时以 HTTPS 启动（tlsutil 提供
TLS 参数）。所有请求的 context 派生自 Manager 的基础 context，
Shutdown 先取消它让 /ws/budget 这类已劫持的连接退出，再在
ShutdownTimeout 内排空普通请求。WaitForShutdown 在 SIGINT/SIGTERM、
ctx 结束或服务异常时触发关闭。
*/
package server
