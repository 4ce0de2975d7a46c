/*
包 database 提供基于 GORM 的数据库连接池管理，支持多驱动打开、
健康检查与事务重试。历史记录存储通过本包访问数据库。

# 核心类型

  - PoolManager：持有 GORM DB 实例与底层 sql.DB，
    提供 DB()、Ping()、Stats()、Close() 等生命周期方法。
  - PoolConfig：最大空闲连接数、最大打开连接数、连接生命周期与健康检查间隔。
  - TransactionFunc：事务回调函数类型。

# 主要能力

  - 多驱动：Open / Dialector 支持 postgres、mysql、sqlite。
  - 健康检查：后台定时 PingContext 探活。
  - 事务：WithTransaction 单次执行，WithTransactionRetry 对死锁、
    序列化失败、断连等瞬时错误按指数退避重试。
*/
package database
