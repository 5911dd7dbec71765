package auth

import (
	"fmt"
	"net/http"
)

// 错误类型与 OpenAI 风格错误体里的 type 字段一致。
const (
	TypeConfiguration = "configuration_error"
	TypeRequired      = "authentication_required"
	TypeFailed        = "authentication_failed"
)

// Error 是鉴权失败的结果，Status 为建议的 HTTP 状态码。
type Error struct {
	Status     int
	Type       string
	Message    string
	Suggestion string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

var (
	errNotConfigured = &Error{
		Status:     http.StatusServiceUnavailable,
		Type:       TypeConfiguration,
		Message:    "Server requires authentication but API key not configured",
		Suggestion: "Please set DOWNSTREAM_API_KEY environment variable",
	}
	errMissingKey = &Error{
		Status:     http.StatusUnauthorized,
		Type:       TypeRequired,
		Message:    "Authentication required",
		Suggestion: "Please provide API key in Authorization header",
	}
	errInvalidKey = &Error{
		Status:  http.StatusUnauthorized,
		Type:    TypeFailed,
		Message: "Invalid API key",
	}
)
