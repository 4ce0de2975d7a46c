/*
包 migration 管理聊天历史的数据库 Schema，支持 PostgreSQL、MySQL 与
SQLite，基于 golang-migrate 实现。

# 概述

SQL 文件通过 embed.FS 内嵌在 migrations/<方言>/ 目录下：

  - 000001_create_chat_messages：用户与助手的每轮对话记录
  - 000002_create_turn_reports：每轮耗时与结果报告

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info
  - Config：数据库类型、连接 URL、迁移表名与锁超时
  - CLI：migrate 子命令的终端输出层
  - NewMigratorFromDatabaseConfig：从应用配置创建迁移器
*/
package migration
