// Package openaihttp 提供基于 Gemini Business 账号池的 OpenAI v1 兼容 HTTP 处理器。
//
// 该包对外暴露：
// - net/http 形式的 handlers（models/chat.completions）
// - Gin 路由注册方法（另含 /v1/files、/v1/sessions/reset、/health、/api/status 与 /api/accounts 管理接口）
// - API key 校验与访问日志中间件
//
// 使用示例：
//
//	d, _ := dispatch.New(dispatch.Config{Pool: p, Upstream: client})
//
//	// net/http
//	modelsH, chatH, _ := openaihttp.Handlers(openaihttp.Config{Dispatcher: d})
//	mux.HandleFunc("/v1/models", modelsH)
//	mux.HandleFunc("/v1/chat/completions", chatH)
//
//	// gin
//	_ = openaihttp.RegisterGinRoutes(r, openaihttp.Config{
//		BasePath:   "/v1",
//		Dispatcher: d,
//		Guard:      auth.Guard{RequireAuth: true, APIKey: key},
//	})
package openaihttp
