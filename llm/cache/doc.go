// Package cache 提供缓存键的构造规则：前缀拼接、内容 Hash 键，以及压缩结果与
// Token 计数结果的专用键。键的存储与过期由 internal/cache 负责。
package cache
