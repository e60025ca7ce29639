// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、Token 计数、
缓存、压缩、MCP 工具与数据库连接池。

# 概述

Collector 通过 promauto 注册到默认 Registry，所有指标按 namespace
隔离。它同时满足 tokenizer.Observer、cache.Recorder 与压缩流水线的
Recorder 接口，服务启动时构造一次并注入各组件。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - Token 计数：按 family/method 统计调用次数与计数总量。
  - 缓存：按 operation/result 统计操作次数，另有 LRU 淘汰计数。
  - 压缩：按 strategy/source 统计次数，计算结果额外记录压缩比与节省量。
  - 数据库：活跃/空闲连接数 Gauge。
*/
package metrics
