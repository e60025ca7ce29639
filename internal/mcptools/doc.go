// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package mcptools 以 MCP（Model Context Protocol）工具的形式暴露 Token 预算能力。

# 概述

Server 基于 mark3labs/mcp-go 注册计数、预算、压缩与缓存管理工具，
可以通过 stdio 运行（供本地 Agent 以子进程方式接入），也可以作为
Streamable HTTP 处理器挂载到主 HTTP 服务上。

# 工具

  - count_tokens          — 单段文本计数
  - count_message_tokens  — 消息序列计数（含每条消息的固定开销）
  - check_budget          — 会话或消息序列的预算与分级建议
  - compress_context      — 执行压缩流水线
  - cache_stats           — 缓存统计
  - cache_invalidate      — 使单个键失效
  - cache_clear           — 使全部条目失效
  - cache_clean           — 物理删除过期条目

每次调用都会记录 Prometheus 计数与 OTel 时延。工具错误以
IsError 结果返回，不作为协议错误。
*/
package mcptools
