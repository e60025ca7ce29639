// Package context 实现上下文压缩流水线。
//
// 四种策略：summarize（关键词摘要）、remove_old（摘要旧消息、保留最近窗口）、
// compress_similar（合并连续同角色消息）与默认的 smart（组合前三者，
// 逐步收缩保留窗口直到 Token 数达到目标或触及保留下限）。
// Compressor 为顶层入口，按 (会话, 策略, 压缩比) 缓存结果 30 分钟。
package context
