// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 Token 预算引擎的数据库 Schema，支持 PostgreSQL、
MySQL 与 SQLite 三种方言，基于 golang-migrate 实现。

# 概述

内嵌的 SQL 迁移创建 cache_entries（结果缓存）以及 conversations /
conversation_messages（会话存储）三张表。tokenbudget migrate 子命令
与服务启动时的 auto_migrate 共用同一套迁移文件。

# 核心接口与类型

  - Migrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info/Close。
  - DefaultMigrator：golang-migrate 的封装。NewMigrator 自行建立连接，
    NewMigratorFromDB 复用调用方的连接池且 Close 时不关闭它。
    ctx 取消时借 GracefulStop 在当前迁移文件执行完后停下。
  - 方言表：每种数据库对应一个 database/sql 驱动名与 golang-migrate
    包装；sqlite 走纯 Go 的 "sqlite" 驱动，不需要 CGO。
  - CLI：面向终端的格式化输出，支持 JSON。
*/
package migration
