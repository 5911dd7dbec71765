// Package pool 管理 Gemini Business 账号池：轮询选择账号，按账号缓存 JWT（默认 240s）与上游会话，
// 换取密钥或创建会话失败时把账号标记为不可用，直到管理员手动重新启用或配置重载。
package pool
