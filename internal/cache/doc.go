// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供带过期与容量上限的结果缓存，底层为可替换的持久化存储。

# 概述

Manager 是缓存的唯一写入方。条目的存活只由 ExpiresAt 决定：
ExpiresAt <= now 即视为失效，但行仍保留在存储中，直到显式调用
CleanExpired 清扫。Invalidate、Clear 与 LRU 淘汰都只做软过期
（ExpiresAt = 0），不删除行。

# 核心类型

  - Manager：Get/Set/Invalidate/Clear/CleanExpired/EvictIfNeeded/Stats，
    以及泛型 GetOrCompute。
  - Store：持久化存储接口，要求按唯一键 upsert、按过期时间扫描与删除。
  - GormStore：基于 gorm 的 SQL 实现（SQLite / PostgreSQL / MySQL）。
  - RedisStore：基于 go-redis 的实现，条目存为 Hash，过期索引存为 ZSet。

# 错误语义

  - 读路径上的存储错误与反序列化失败都按未命中处理，只记录日志。
  - 写路径上的存储错误原样（%w 包装）返回给调用方。
  - 引擎自身不启动任何后台 goroutine。
*/
package cache
