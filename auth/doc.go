// Package auth 实现下游客户端的 API key 校验。
package auth
