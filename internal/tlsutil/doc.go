// Package tlsutil 提供集中式 TLS 配置，
// HTTPS 服务、Anthropic 计数客户端与 Redis 连接共用同一套加固设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
