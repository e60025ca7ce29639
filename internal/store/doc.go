// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 store 持久化会话与消息，为压缩流水线和预算追踪提供消息来源。

ConversationStore 构建在 database.PoolManager 之上，消息按会话内
递增的 seq 排序。写入消息时用会话模型重新计算 Token 数，追加操作
走带重试的事务，以应对 seq 唯一索引上的并发冲突。表结构由
internal/migration 的 000002 迁移创建；测试与开发环境可用 AutoMigrate。
*/
package store
