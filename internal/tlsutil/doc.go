// Package tlsutil 提供上游 HTTP 客户端的 TLS 加固配置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
