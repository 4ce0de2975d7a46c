/*
包 cache 提供基于 Redis 的存储管理能力，供会话存储与合成音频缓存共用。

# 概述

本包封装 go-redis 客户端，Manager 负责连接生命周期管理，
包括初始化、健康检查与优雅关闭。所有键通过 Key 加上统一命名空间。

# 核心类型

  - Manager：持有 Redis 客户端，提供 Get/Set/GetBytes/SetBytes/
    GetJSON/SetJSON/Delete/Exists/Expire/TTL 等操作。
  - Config：地址、密码、键前缀、连接池大小、默认 TTL 与健康检查间隔。

# 错误语义

  - ErrCacheMiss：键不存在（Get 与 Expire 均返回）。
  - ErrClosed：Close 之后的任何调用。
*/
package cache
