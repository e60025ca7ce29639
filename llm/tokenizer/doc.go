// Package tokenizer 提供模型感知的 Token 计数。
//
// 计数按模型族三级降级：primary 走外部精确计数（Anthropic count_tokens），
// secondary 走 tiktoken 编码表，generic 与所有失败路径回落到 ceil(len/4)。
// 计数永远不返回错误。包内还提供上下文窗口上限表与压缩建议分级。
package tokenizer
