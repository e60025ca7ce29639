// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 Token 预算引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 tokenizer、cache、
context 压缩、api 等上层模块提供统一的类型契约。

# 核心类型

  - Message           — 对话消息（Role、Content、Tokens、IsCompressed、IsSummary）
  - Family            — 模型族（primary / secondary / generic），由 DetectFamily 唯一判定
  - TokenCount        — 派生的 Token 计数结果
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与 Retryable 标记

# 主要能力

  - Context 传播：WithTraceID / WithRequestID / WithConversationID / WithModel
  - 错误工具链：WrapError / AsError / IsErrorCode / IsRetryable
*/
package types
