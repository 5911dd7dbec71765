// Package gemb2o 提供将 Gemini Business（企业版 Gemini 网页端 widget 接口）
// 转换为 OpenAI 兼容 API 的能力，并在多个预先登录的账号之间轮询分发请求。
//
// 该仓库主要包含以下能力：
//  1. backend：上游 HTTP 客户端（getoxsrf 换取签名密钥、JWT 签名、会话创建、流式对话、文件上传/下载）
//  2. pool：账号池（轮询、JWT/会话缓存、失效账号降级）
//  3. dispatch：请求分发（按账号重试）以及 Eino ToolCallingChatModel 适配
//  4. openaihttp：/v1/models、/v1/chat/completions、/v1/files 等 OpenAI 兼容 handlers 与管理接口
package gemb2o
