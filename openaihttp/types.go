package openaihttp

import (
	"github.com/LubyRuffy/gemb2o"
	"github.com/LubyRuffy/gemb2o/auth"
	"github.com/LubyRuffy/gemb2o/dispatch"
	"go.uber.org/zap"
)

type Config struct {
	// BasePath 仅用于 Gin 注册路由时拼接路径，默认 "/v1"。
	BasePath string
	// Dispatcher 必填：所有上游调用都经由它分配账号。
	Dispatcher *dispatch.Dispatcher
	// Models 为 /v1/models 的输出，禁用项会被过滤；为空时使用 gemb2o.DefaultModels()。
	Models []gemb2o.Model
	// SystemFingerprint chat.completions 用；默认 "fp_gemb2o"。
	SystemFingerprint string
	// Guard 下游 API key 校验，/health 与 /api/public/status 不受限制。
	Guard auth.Guard
	// ProxyURL 仅用于 /api/status 展示。
	ProxyURL string
	// MaxUploadBytes /v1/files 单个文件上限，默认 50MB。
	MaxUploadBytes int64
	Logger         *zap.Logger
}
