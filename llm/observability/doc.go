// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package observability 为 Token 预算引擎提供基于 OpenTelemetry 的追踪与指标。
//
// 压缩流水线与 MCP 工具调用通过 Metrics 记录 span、运行次数、节省的 Token
// 与耗时分布；导出器由 internal/telemetry 统一初始化，未初始化时为 no-op。
package observability
