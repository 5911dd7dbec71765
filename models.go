package gemb2o

import "strings"

const (
	// DefaultBaseURL 是 Discovery Engine widget 接口的默认前缀。
	DefaultBaseURL = "https://biz-discoveryengine.googleapis.com/v1alpha"
	// DefaultAuthURL 用 cookie 换取 JWT 签名密钥（keyId/xsrfToken）。
	DefaultAuthURL = "https://business.gemini.google/auth/getoxsrf"
	// DefaultOrigin 会同时用于 Origin 与 Referer，也是 JWT 的 iss。
	DefaultOrigin = "https://business.gemini.google"
	// DefaultAudience 是 JWT 的 aud。
	DefaultAudience = "https://biz-discoveryengine.googleapis.com"
	// DefaultUserAgent 在账号未配置 user_agent 时使用。
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36"

	// DefaultModelID 是未配置模型时对外暴露的唯一模型。
	DefaultModelID = "gemini-enterprise"
)

// Model 是对外暴露的模型配置（/v1/models 输出）。
// 上游并不区分模型，ID 仅用于兼容客户端。
type Model struct {
	ID            string `json:"id" yaml:"id"`
	Name          string `json:"name" yaml:"name"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`
	ContextLength int    `json:"context_length,omitempty" yaml:"context_length,omitempty"`
	MaxTokens     int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Enabled       bool   `json:"enabled" yaml:"enabled"`
}

// DefaultModels 返回内置的模型列表。
func DefaultModels() []Model {
	return []Model{
		{
			ID:            DefaultModelID,
			Name:          "Gemini Enterprise",
			Description:   "Google Gemini Enterprise 模型",
			ContextLength: 32768,
			MaxTokens:     8192,
			Enabled:       true,
		},
	}
}

// EnabledModels 过滤掉禁用的模型；结果为空时回退到 DefaultModels。
func EnabledModels(models []Model) []Model {
	out := make([]Model, 0, len(models))
	for _, m := range models {
		if !m.Enabled || strings.TrimSpace(m.ID) == "" {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return DefaultModels()
	}
	return out
}

// NormalizeModelID 清理客户端传入的模型 ID，空值按 DefaultModelID 处理。
// 上游只有一个模型，这里不拒绝未知 ID。
func NormalizeModelID(modelID string) string {
	trimmed := strings.TrimSpace(modelID)
	if trimmed == "" {
		return DefaultModelID
	}
	return trimmed
}
