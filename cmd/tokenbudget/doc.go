// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 TokenBudget 服务端程序入口。

# 概述

cmd/tokenbudget 基于 cobra 组织子命令，提供 HTTP API 服务、stdio 方式的
MCP 工具、数据库迁移、离线 Token 计数、健康检查和版本查询。配置由 YAML
文件加环境变量加载，日志使用 zap，指标由 Prometheus 采集，追踪走 OTLP。

# 核心类型

  - Server      — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - components  — 数据库、缓存、计数器与压缩流水线的装配结果，serve 与 stdio 共用
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、stdio、migrate、count、health、version
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、CORS、BodyLimit、Auth（API Key 或 JWT）、
    RateLimiter（按主体或 IP）
  - 启动时可自动执行内嵌迁移，缓存后端在 sql、redis、memory 间切换
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 释放存储 → 刷出遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
