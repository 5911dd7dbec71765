// Package openaiapi 提供 OpenAI v1 兼容接口的通用数据结构与辅助函数。
//
// 该包只关注协议层：请求/响应 JSON 结构、SSE chunk 结构、文件对象、错误结构，
// 以及用户消息 content 的拆解。账号池与上游调用在 dispatch 包中实现。
//
// 示例：创建一个 SSE chunk 并序列化输出
//
//	chunk := openaiapi.ToChatChunk("chatcmpl-xxx", "gemini-enterprise", "hello", nil, "")
//	_ = json.NewEncoder(w).Encode(chunk)
package openaiapi
