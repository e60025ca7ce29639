// Package api 定义 tokenbudget HTTP API 的请求与响应结构。
//
// # API 概览
//
//   - POST /v1/tokens/count、/v1/tokens/count/batch、/v1/tokens/recommendation
//   - POST /v1/compress
//   - /v1/conversations 会话与消息管理，GET /v1/conversations/{id}/budget
//   - /v1/cache 统计、失效、清空、清理
//   - /ws/budget 预算推送（WebSocket）
//   - /mcp MCP 工具（Streamable HTTP）
//   - /health、/healthz、/ready、/version、/metrics
//
// # 认证
//
// 配置了 API Key 时通过 X-API-Key 头传递；配置了 JWT 密钥时使用
// Authorization: Bearer。健康检查与指标端点不需要认证。
package api
