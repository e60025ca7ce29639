// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 打开 TokenBudget 的关系型存储：压缩结果缓存表
cache_entries 与会话表 conversations/conversation_messages。

Open 按 config.DatabaseConfig 选择方言，默认是纯 Go 的 sqlite
（glebarez），也支持 postgres 与 mysql。PoolManager 持有 GORM
实例与底层 sql.DB，后台协程定时探活，并通过 StatsObserver
上报打开与空闲连接数；Close 时协程退出。

会话追加消息走 WithTransactionRetry，遇到死锁、序列化失败或
sqlite 写锁冲突时按指数退避重试。
*/
package database
