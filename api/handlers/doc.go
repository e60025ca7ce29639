// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 TokenBudget HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 Token 计数、上下文压缩、会话管理、缓存管理、
预算推送以及健康检查的请求处理逻辑。所有 Handler 均遵循标准
net/http 接口，路由参数通过 Go 1.22 的 r.PathValue 读取，
并通过 Swagger 注解生成 API 文档。

# 核心类型

  - TokenHandler        — 单条、批量计数与用量分级建议
  - CompressHandler     — 压缩消息或已存储会话，可选回写结果
  - ConversationHandler — 会话 CRUD、追加消息与预算查询
  - CacheHandler        — 缓存统计、失效、清空与过期清理
  - BudgetSocket        — /ws/budget 上的预算推送（coder/websocket）
  - HealthHandler       — 存活与就绪探针，关键/非关键检查并发执行
  - Response / ErrorInfo — 统一 JSON 响应结构

# 主要能力

  - 统一响应格式：WriteSuccess / WriteStatus / WriteError / WriteServiceError
  - 请求解析：decodeJSON 校验 Content-Type，1 MB 上限，拒绝未知字段
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 依赖以窄接口注入，便于在测试中替换
*/
package handlers
