package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Guard 校验下游客户端携带的 API key。RequireAuth 为 false 时放行所有请求。
type Guard struct {
	RequireAuth bool
	APIKey      string
}

// Check 返回 nil 表示放行，否则返回 *Error。
func (g Guard) Check(r *http.Request) error {
	if !g.RequireAuth {
		return nil
	}
	if strings.TrimSpace(g.APIKey) == "" {
		return errNotConfigured
	}
	provided := KeyFromRequest(r)
	if provided == "" {
		return errMissingKey
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(g.APIKey)) != 1 {
		return errInvalidKey
	}
	return nil
}

// KeyFromRequest 依次读取 Authorization（Bearer / Api-Key 前缀）与 X-API-Key。
func KeyFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if v := strings.TrimSpace(r.Header.Get("Authorization")); v != "" {
		for _, prefix := range []string{"Bearer ", "Api-Key "} {
			if len(v) >= len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
				return strings.TrimSpace(v[len(prefix):])
			}
		}
		return v
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
