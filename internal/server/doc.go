// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，服务于语音 WebSocket
端点与独立的指标端口。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Run/Shutdown 等生命周期方法。
  - Config：监听地址、超时、最大请求头与 TLS 证书配置。

# 主要能力

  - Run 阻塞到 ctx 结束后优雅关闭，可直接放入 errgroup。
  - OnShutdown 注册关闭钩子，用于通知已升级的 WebSocket 连接。
  - 证书与私钥同时配置时使用 tlsutil 的加固 TLS 配置。
*/
package server
